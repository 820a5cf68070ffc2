package vpn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yllada/openvpn-manager/common"
)

// Profile is a named OpenVPN configuration.
type Profile struct {
	// ID is a stable identifier (UUID) that survives re-adding under the same name.
	ID string `json:"id"`
	// Name is the unique, human-readable key of the profile.
	Name string `json:"name"`
	// ConfigPath is the path to the OpenVPN configuration file.
	ConfigPath string `json:"config_path"`
	// ServerAddress is the server named by the config; empty when unknown.
	ServerAddress string `json:"server_address"`
	// CreatedAt is when the profile was added.
	CreatedAt time.Time `json:"created_at"`
	// LastUsed is when the profile was last connected successfully.
	LastUsed time.Time `json:"last_used,omitempty"`
}

// ProfileStore keeps profiles in a single JSON file, rewritten on every change.
type ProfileStore struct {
	mu        sync.Mutex
	path      string
	profiles  map[string]*Profile
	inspector *Inspector
}

// DefaultProfilesPath returns the profile file location in the config directory.
func DefaultProfilesPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ProfilesFileName), nil
}

// NewProfileStore loads the store at path. A missing file yields an empty
// store; a file that cannot be parsed returns common.ErrStoreCorrupt.
func NewProfileStore(path string, inspector *Inspector) (*ProfileStore, error) {
	if inspector == nil {
		inspector = NewInspector(nil)
	}
	ps := &ProfileStore{
		path:      path,
		profiles:  make(map[string]*Profile),
		inspector: inspector,
	}
	if err := ps.load(); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *ProfileStore) load() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	if err := json.Unmarshal(data, &ps.profiles); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrStoreCorrupt, ps.path, err)
	}
	if ps.profiles == nil {
		ps.profiles = make(map[string]*Profile)
	}
	for name, p := range ps.profiles {
		if p == nil {
			return fmt.Errorf("%w: %s: empty record for %q", common.ErrStoreCorrupt, ps.path, name)
		}
		p.Name = name
	}
	return nil
}

// save writes all profiles. Caller holds ps.mu.
func (ps *ProfileStore) save() error {
	data, err := json.MarshalIndent(ps.profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ps.path), 0700); err != nil {
		return fmt.Errorf("failed to create profiles directory: %w", err)
	}
	if err := common.WriteFileAtomic(ps.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}
	return nil
}

// Add stores a profile for configPath under name, replacing any profile with
// the same name. The server address is derived from the config file.
func (ps *ProfileStore) Add(name, configPath string) (*Profile, error) {
	if name == "" {
		return nil, fmt.Errorf("profile name is required")
	}
	if !common.FileExists(configPath) {
		return nil, fmt.Errorf("%w: %s", common.ErrConfigNotFound, configPath)
	}

	address := ps.inspector.ServerAddress(context.Background(), configPath)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	profile := &Profile{
		Name:          name,
		ConfigPath:    configPath,
		ServerAddress: address,
		CreatedAt:     time.Now(),
	}
	previous, existed := ps.profiles[name]
	if existed && previous.ID != "" {
		profile.ID = previous.ID
	} else {
		profile.ID = common.GenerateID()
	}
	ps.profiles[name] = profile

	if err := ps.save(); err != nil {
		if existed {
			ps.profiles[name] = previous
		} else {
			delete(ps.profiles, name)
		}
		return nil, err
	}
	common.LogInfo("Profile %s saved (server: %s)", name, displayAddress(address))

	copied := *profile
	return &copied, nil
}

// Remove deletes a profile by name.
func (ps *ProfileStore) Remove(name string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	previous, ok := ps.profiles[name]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrProfileNotFound, name)
	}
	delete(ps.profiles, name)
	if err := ps.save(); err != nil {
		ps.profiles[name] = previous
		return err
	}
	return nil
}

// Get returns a copy of the named profile.
func (ps *ProfileStore) Get(name string) (*Profile, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrProfileNotFound, name)
	}
	copied := *p
	return &copied, nil
}

// List returns copies of all profiles sorted by name. Profiles with no
// server address are re-inspected outside the lock and the store is saved
// after each one that gains an address.
func (ps *ProfileStore) List() []*Profile {
	ps.mu.Lock()
	missing := make(map[string]string)
	for name, p := range ps.profiles {
		if p.ServerAddress == "" {
			missing[name] = p.ConfigPath
		}
	}
	ps.mu.Unlock()

	resolved := make(map[string]string, len(missing))
	for name, configPath := range missing {
		if address := ps.inspector.ServerAddress(context.Background(), configPath); address != "" {
			resolved[name] = address
		}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	names := make([]string, 0, len(ps.profiles))
	for name := range ps.profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]*Profile, 0, len(names))
	for _, name := range names {
		p := ps.profiles[name]
		// Skip results for profiles replaced while resolving.
		if address, ok := resolved[name]; ok && p.ServerAddress == "" && p.ConfigPath == missing[name] {
			p.ServerAddress = address
			if err := ps.save(); err != nil {
				p.ServerAddress = ""
				common.LogWarn("Could not save backfilled address for %s: %v", name, err)
			}
		}
		copied := *p
		result = append(result, &copied)
	}
	return result
}

// ServerAddress returns the stored server address for a profile.
// The boolean is false when the profile is unknown or has no address.
func (ps *ProfileStore) ServerAddress(name string) (string, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.profiles[name]
	if !ok || p.ServerAddress == "" {
		return "", false
	}
	return p.ServerAddress, true
}

// MarkUsed records the current time as the profile's last use.
func (ps *ProfileStore) MarkUsed(name string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.profiles[name]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrProfileNotFound, name)
	}
	previous := p.LastUsed
	p.LastUsed = time.Now()
	if err := ps.save(); err != nil {
		p.LastUsed = previous
		return err
	}
	return nil
}

func displayAddress(address string) string {
	if address == "" {
		return "unknown"
	}
	return address
}

// DisplayAddress returns the server address, or "unknown" when none was found.
func (p *Profile) DisplayAddress() string {
	return displayAddress(p.ServerAddress)
}
