package classes

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Image: a CBOR-encoded set of class definitions
// ---------------------------------------------------------------------------

// ImageVersion is the current image format version.
const ImageVersion = 1

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("classes: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// Image is a loadable program: class definitions plus an optional entry
// point.
type Image struct {
	Version int         `cbor:"version"`
	Entry   *EntryPoint `cbor:"entry,omitempty"`
	Classes []ClassDef  `cbor:"classes"`
}

// EntryPoint names the static method a program starts in.
type EntryPoint struct {
	Class      string `cbor:"class"`
	Name       string `cbor:"name"`
	Descriptor string `cbor:"desc"`
}

func (e EntryPoint) String() string {
	return e.Class + "." + e.Name + e.Descriptor
}

// ClassDef is the symbolic definition of one class or interface. An empty
// Super means java/lang/Object. Constants[0] is unused.
type ClassDef struct {
	Name       string      `cbor:"name"`
	Super      string      `cbor:"super,omitempty"`
	Interfaces []string    `cbor:"interfaces,omitempty"`
	Flags      AccessFlags `cbor:"flags"`
	Constants  []Constant  `cbor:"constants"`
	Fields     []FieldDef  `cbor:"fields,omitempty"`
	Methods    []MethodDef `cbor:"methods,omitempty"`
}

// FieldDef defines a field.
type FieldDef struct {
	Name       string      `cbor:"name"`
	Descriptor string      `cbor:"desc"`
	Flags      AccessFlags `cbor:"flags"`
}

// MethodDef defines a method. MaxLocals counts parameter slots; a value
// below the parameter slot count is raised to it.
type MethodDef struct {
	Name       string      `cbor:"name"`
	Descriptor string      `cbor:"desc"`
	Flags      AccessFlags `cbor:"flags"`
	MaxLocals  int         `cbor:"max_locals"`
	MaxStack   int         `cbor:"max_stack"`
	Code       []byte      `cbor:"code,omitempty"`
}

// Encode serializes the image as canonical CBOR.
func (img *Image) Encode() ([]byte, error) {
	data, err := imageEncMode.Marshal(img)
	return data, errors.Wrap(err, "encoding image")
}

// DecodeImage parses an image produced by Encode.
func DecodeImage(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	if img.Version != ImageVersion {
		return nil, errors.Errorf("unsupported image version %d (want %d)", img.Version, ImageVersion)
	}
	return &img, nil
}

// WriteFile writes the encoded image to path.
func (img *Image) WriteFile(path string) error {
	data, err := img.Encode()
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing image %s", path)
}

// ReadImageFile reads and decodes an image file.
func ReadImageFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image %s", path)
	}
	return DecodeImage(data)
}

// Load defines every class of img. Definitions may appear in any order;
// superclasses and interfaces are defined before the classes naming them.
func (l *Loader) Load(img *Image) ([]*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	defs := make(map[string]*ClassDef, len(img.Classes))
	for i := range img.Classes {
		def := &img.Classes[i]
		if _, dup := defs[def.Name]; dup {
			return nil, errors.Errorf("image defines %s twice", def.Name)
		}
		defs[def.Name] = def
	}

	var loaded []*Class
	visiting := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		def, ok := defs[name]
		if !ok {
			return nil // defined earlier, or reported by define
		}
		if _, done := l.classes[name]; done {
			return nil
		}
		if visiting[name] {
			return errors.Errorf("class hierarchy cycle through %s", name)
		}
		visiting[name] = true
		if err := visit(def.Super); err != nil {
			return err
		}
		for _, iface := range def.Interfaces {
			if err := visit(iface); err != nil {
				return err
			}
		}
		c, err := l.define(*def)
		if err != nil {
			return err
		}
		loaded = append(loaded, c)
		return nil
	}
	for i := range img.Classes {
		if err := visit(img.Classes[i].Name); err != nil {
			return loaded, err
		}
	}
	l.log.Infof("loaded %d classes", len(loaded))
	return loaded, nil
}

// ResolveEntry returns the static method named by e.
func (l *Loader) ResolveEntry(e EntryPoint) (*Method, error) {
	c, err := l.Lookup(e.Class)
	if err != nil {
		return nil, err
	}
	m := c.Method(e.Name, e.Descriptor)
	if m == nil {
		return nil, errors.Errorf("entry point %s not found", e)
	}
	if !m.IsStatic() {
		return nil, errors.Errorf("entry point %s is not static", e)
	}
	return m, nil
}
