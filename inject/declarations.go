package inject

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDeclarations is returned when a declaration file can not be used.
var ErrInvalidDeclarations = errors.New("invalid declarations")

// DeclarationSet is the content of a declaration file.
type DeclarationSet struct {
	// MinEngineVersion rejects the file on older engines, for example "v1.1.0".
	MinEngineVersion string `json:"minEngineVersion,omitempty" yaml:"minEngineVersion,omitempty" toml:"minEngineVersion,omitempty"`
	// TraceFunction overrides DefaultTraceFunction for the whole run.
	TraceFunction string             `json:"traceFunction,omitempty" yaml:"traceFunction,omitempty" toml:"traceFunction,omitempty"`
	Files         []FileDeclarations `json:"files" yaml:"files" toml:"files" validate:"required,min=1,dive"`
}

// FileDeclarations binds tracepoints to the files matching Path.
type FileDeclarations struct {
	// Path is a slash separated path relative to the project, it may contain glob patterns including "**".
	Path        string                  `json:"path" yaml:"path" toml:"path" validate:"required"`
	Tracepoints []TracepointDeclaration `json:"tracepoints" yaml:"tracepoints" toml:"tracepoints" validate:"required,min=1,dive"`
}

var declarationValidate = validator.New()

// LoadDeclarations reads a declaration file, selecting the format by extension (.yaml, .yml, .toml or .json).
// Declarations without an ID are assigned a name based UUID derived from their path, position and content.
func LoadDeclarations(filename string) (*DeclarationSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var set DeclarationSet
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&set)
	case ".toml":
		var meta toml.MetaData
		meta, err = toml.Decode(string(data), &set)
		if err == nil && len(meta.Undecoded()) > 0 {
			err = fmt.Errorf("unknown keys %v", meta.Undecoded())
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&set)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidDeclarations, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDeclarations, filename, err)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	for i := range set.Files {
		for j := range set.Files[i].Tracepoints {
			if set.Files[i].Tracepoints[j].ID == "" {
				set.Files[i].Tracepoints[j].ID = generatedID(set.Files[i].Path, j, set.Files[i].Tracepoints[j])
			}
		}
	}
	return &set, nil
}

// generatedID derives a name based UUID, stable across loads of an unchanged declaration.
func generatedID(path string, index int, decl TracepointDeclaration) string {
	name := fmt.Sprintf("%s#%d:%s:%d:%s:%s", path, index, decl.Kind, decl.LineNumber, decl.FunctionName, decl.Code)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Validate checks the structure of the set and the engine version requirement.
// Semantic problems such as a missing line number are left to Inject so they are reported per declaration.
func (s *DeclarationSet) Validate() error {
	if s.MinEngineVersion != "" {
		if !semver.IsValid(s.MinEngineVersion) {
			return fmt.Errorf("%w: minEngineVersion %q is not a semantic version", ErrInvalidDeclarations, s.MinEngineVersion)
		} else if semver.Compare(Version, s.MinEngineVersion) < 0 {
			return fmt.Errorf("%w: requires engine %s, running %s", ErrInvalidDeclarations, s.MinEngineVersion, Version)
		}
	}
	if s.TraceFunction != "" && !traceFunctionPattern.MatchString(s.TraceFunction) {
		return fmt.Errorf("%w: trace function %q is not an identifier", ErrInvalidDeclarations, s.TraceFunction)
	}
	if err := declarationValidate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidDeclarations, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidDeclarations, err)
	}
	for _, f := range s.Files {
		if _, err := path.Match(f.Path, ""); err != nil {
			return fmt.Errorf("%w: path %q: %w", ErrInvalidDeclarations, f.Path, err)
		}
	}
	return nil
}

// DeclarationsFor returns the tracepoints of every entry matching the slash separated relative path, in file order.
func (s *DeclarationSet) DeclarationsFor(relPath string) []TracepointDeclaration {
	var decls []TracepointDeclaration
	for _, f := range s.Files {
		if matchPath(f.Path, relPath) {
			decls = append(decls, f.Tracepoints...)
		}
	}
	return decls
}

// matchPath matches slash separated paths segment by segment, "**" matches zero or more segments.
func matchPath(pattern, name string) bool {
	return matchSegments(strings.Split(path.Clean(pattern), "/"), strings.Split(path.Clean(name), "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			for i := 0; i <= len(name); i++ {
				if matchSegments(pattern[1:], name[i:]) {
					return true
				}
			}
			return false
		} else if len(name) == 0 {
			return false
		} else if ok, err := path.Match(pattern[0], name[0]); err != nil || !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}
