package rules

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// Allowlist suppresses findings whose matched text is known benign, for
// example an internal vulnerability scanner's user agent. Entries are exact
// matches after trimming, one per line in the backing file.
type Allowlist struct {
	mu    sync.RWMutex
	items map[string]bool
	path  string
}

// LoadAllowlist reads the allowlist at path. A missing file yields an empty
// allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	a := &Allowlist{
		items: make(map[string]bool),
		path:  path,
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			a.items[line] = true
		}
	}
	return a, scanner.Err()
}

// Contains checks if the value is allowlisted. Safe on a nil receiver.
func (a *Allowlist) Contains(value string) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.items[strings.TrimSpace(value)]
}

// Add appends a value to the allowlist and persists it.
func (a *Allowlist) Add(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.items[value] {
		return nil
	}
	a.items[value] = true

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(value + "\n")
	return err
}
