package kernel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// KernelABIVersion is the syscall/blob-format ABI this kernel
// implements. Embedded apps declare the ABI they were built against;
// AppTable.Register refuses an app whose declared ABI the kernel does
// not satisfy, the same "declare a constraint, check compatibility" idiom
// internal/packagemanager/resolver.go uses for dependency ranges,
// applied to the kernel/app boundary instead.
var KernelABIVersion = semver.MustParse("1.0.0")

// App describes one statically-embedded user program, the Go-side
// decoding of the linker-generated blob in spec.md §6: a u64 app
// count, app_count (name_ptr, start_ptr) pairs, and a trailing
// end_ptr delimiting the last program's bytes.
type App struct {
	Name  string
	Image []byte
	// ABI is the semver constraint this app declares compatibility
	// with (e.g. "^1.0.0"). Apps built against an incompatible ABI are
	// rejected by AppTable.Register rather than loaded and left to crash
	// on an unrecognized syscall id. Syscalls.Exec takes raw image bytes
	// and does not consult this field.
	ABI *semver.Constraints
}

// AppTable holds every embedded program, keyed by name, and enforces
// the ABI gate.
type AppTable struct {
	mu   sync.RWMutex
	apps map[string]*App
}

// NewAppTable creates an empty table; real boot code populates it from
// the linker-generated blob, tests populate it directly.
func NewAppTable() *AppTable {
	return &AppTable{apps: make(map[string]*App)}
}

// Register adds an app to the table. It is an error to register the
// same name twice or to register an app whose ABI constraint the
// kernel's KernelABIVersion does not satisfy.
func (t *AppTable) Register(app *App) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if app.ABI != nil && !app.ABI.Check(KernelABIVersion) {
		return fmt.Errorf("app %q declares ABI %s, incompatible with kernel ABI %s",
			app.Name, app.ABI, KernelABIVersion)
	}
	if _, exists := t.apps[app.Name]; exists {
		return fmt.Errorf("app %q already registered", app.Name)
	}
	t.apps[app.Name] = app
	return nil
}

// ListApps returns every registered app's name, for the "list_apps()"
// contract in spec.md §6.
func (t *AppTable) ListApps() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.apps))
	for n := range t.apps {
		names = append(names, n)
	}
	return names
}

// Lookup finds an app's image by name, for exec.
func (t *AppTable) Lookup(name string) (*App, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.apps[name]
	return a, ok
}

// GlobalApps is the process-wide embedded app table, populated during
// boot.
var GlobalApps = NewAppTable()

// ParseAppBlob decodes the linker-generated blob format spec.md §6
// fixes: a little-endian u64 `_app_count`, followed by that many
// (name_ptr, start_ptr) pairs, followed by one trailing `end_ptr`. A
// real boot loads this straight out of a linked-in section; since this
// module has no linker section to read, name_ptr/start_ptr/end_ptr are
// byte offsets into blob itself rather than real addresses — the same
// relocation-free encoding a position-independent blob would use.
// Parsed apps carry no ABI constraint (Register accepts them
// unconditionally); a real build pipeline would stamp one in
// alongside the blob, which this decoder has no separate field for.
func ParseAppBlob(blob []byte) ([]*App, error) {
	const wordSize = 8
	if len(blob) < wordSize {
		return nil, fmt.Errorf("apps: blob too short for app_count (%d bytes)", len(blob))
	}
	count := binary.LittleEndian.Uint64(blob[0:wordSize])

	pairsEnd := wordSize + int(count)*2*wordSize
	if pairsEnd+wordSize > len(blob) {
		return nil, fmt.Errorf("apps: blob too short for %d app entries plus end_ptr", count)
	}

	offsets := make([]uint64, 0, count+1)
	for i := uint64(0); i < count; i++ {
		start := wordSize + int(i)*2*wordSize
		offsets = append(offsets, binary.LittleEndian.Uint64(blob[start+wordSize:start+2*wordSize]))
	}
	endPtr := binary.LittleEndian.Uint64(blob[pairsEnd : pairsEnd+wordSize])
	offsets = append(offsets, endPtr)

	apps := make([]*App, 0, count)
	for i := uint64(0); i < count; i++ {
		start := wordSize + int(i)*2*wordSize
		namePtr := binary.LittleEndian.Uint64(blob[start : start+wordSize])
		if int(namePtr) > len(blob) {
			return nil, fmt.Errorf("apps: entry %d name_ptr %#x past end of blob", i, namePtr)
		}
		nulIdx := bytes.IndexByte(blob[namePtr:], 0)
		if nulIdx < 0 {
			return nil, fmt.Errorf("apps: entry %d name is not NUL-terminated", i)
		}
		name := string(blob[namePtr : namePtr+uint64(nulIdx)])

		imgStart, imgEnd := offsets[i], offsets[i+1]
		if imgEnd < imgStart || int(imgEnd) > len(blob) {
			return nil, fmt.Errorf("apps: entry %d image range [%#x, %#x) out of bounds", i, imgStart, imgEnd)
		}

		apps = append(apps, &App{Name: name, Image: blob[imgStart:imgEnd]})
	}
	return apps, nil
}
