package gateway

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed texts.yaml
var defaultTexts []byte

// serverPlaceholder is replaced with the server name in every text.
const serverPlaceholder = "{server}"

// Texts is the catalog of fixed messages the gateway sends.
type Texts struct {
	Welcome        string `yaml:"welcome"`
	Farewell       string `yaml:"farewell"`
	Shutdown       string `yaml:"shutdown"`
	BinaryRejected string `yaml:"binary_rejected"`
}

// DefaultTexts returns the built-in catalog for serverName.
func DefaultTexts(serverName string) Texts {
	var t Texts
	if err := yaml.Unmarshal(defaultTexts, &t); err != nil {
		panic(fmt.Sprintf("parsing built-in texts: %v", err))
	}
	return t.withServer(serverName)
}

// LoadTexts returns the built-in catalog with any keys set in the YAML file at
// path overriding it. An empty path yields DefaultTexts.
//
// Postcondition: Every field of the returned Texts is non-empty, or an error is returned.
func LoadTexts(path, serverName string) (Texts, error) {
	var t Texts
	if err := yaml.Unmarshal(defaultTexts, &t); err != nil {
		return Texts{}, fmt.Errorf("parsing built-in texts: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Texts{}, fmt.Errorf("reading texts file: %w", err)
		}
		// Unmarshal only overwrites keys present in the file.
		if err := yaml.Unmarshal(data, &t); err != nil {
			return Texts{}, fmt.Errorf("parsing texts file %s: %w", path, err)
		}
	}
	if err := t.validate(); err != nil {
		return Texts{}, err
	}
	return t.withServer(serverName), nil
}

func (t Texts) validate() error {
	var missing []string
	if strings.TrimSpace(t.Welcome) == "" {
		missing = append(missing, "welcome")
	}
	if strings.TrimSpace(t.Farewell) == "" {
		missing = append(missing, "farewell")
	}
	if strings.TrimSpace(t.Shutdown) == "" {
		missing = append(missing, "shutdown")
	}
	if strings.TrimSpace(t.BinaryRejected) == "" {
		missing = append(missing, "binary_rejected")
	}
	if len(missing) > 0 {
		return fmt.Errorf("texts must not be empty: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (t Texts) withServer(name string) Texts {
	r := strings.NewReplacer(serverPlaceholder, name)
	return Texts{
		Welcome:        r.Replace(t.Welcome),
		Farewell:       r.Replace(t.Farewell),
		Shutdown:       r.Replace(t.Shutdown),
		BinaryRejected: r.Replace(t.BinaryRejected),
	}
}
