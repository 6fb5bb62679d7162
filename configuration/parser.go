package configuration

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Version is a major/minor version pair of the form Major.Minor.
// Major version upgrades indicate structure or type changes; minor version
// upgrades should be strictly additive.
type Version string

// MajorMinorVersion constructs a Version from its Major and Minor components.
func MajorMinorVersion(major, minor uint) Version {
	return Version(fmt.Sprintf("%d.%d", major, minor))
}

// UnmarshalYAML implements the yaml.Unmarshaler interface, validating that
// both components of the version can represent uints.
func (version *Version) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// An unquoted version such as 0.1 scans as a yaml float, so accept any
	// scalar and render it back to a string.
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	versionString := fmt.Sprint(raw)

	parts := strings.Split(versionString, ".")
	if len(parts) != 2 {
		return fmt.Errorf("invalid version %q", versionString)
	}
	for _, part := range parts {
		if _, err := strconv.ParseUint(part, 10, 0); err != nil {
			return fmt.Errorf("invalid version %q: %v", versionString, err)
		}
	}

	*version = Version(versionString)
	return nil
}

// parser unmarshals a yaml document and then walks the result, replacing
// fields with values from correspondingly named environment variables.
type parser struct {
	prefix string
	env    map[string]string
}

func newParser(prefix string) *parser {
	p := &parser{prefix: prefix, env: make(map[string]string)}

	for _, env := range os.Environ() {
		k, v, _ := strings.Cut(env, "=")
		p.env[k] = v
	}

	return p
}

func (p *parser) parse(in []byte, v interface{}) error {
	if err := yaml.Unmarshal(in, v); err != nil {
		return err
	}

	return p.overwriteFields(reflect.ValueOf(v), p.prefix)
}

// overwriteFields replaces configuration values with alternate values
// specified through the environment. Precondition: an empty path slice must
// never be passed in.
func (p *parser) overwriteFields(v reflect.Value, prefix string) error {
	for v.Kind() == reflect.Ptr {
		v = reflect.Indirect(v)
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			sf := v.Type().Field(i)
			fieldPrefix := strings.ToUpper(prefix + "_" + sf.Name)
			if e, ok := p.env[fieldPrefix]; ok {
				fieldVal := reflect.New(sf.Type)
				if err := yaml.Unmarshal([]byte(e), fieldVal.Interface()); err != nil {
					return err
				}
				v.Field(i).Set(reflect.Indirect(fieldVal))
			}
			if err := p.overwriteFields(v.Field(i), fieldPrefix); err != nil {
				return err
			}
		}
	case reflect.Map:
		return p.overwriteMap(v, prefix)
	}
	return nil
}

func (p *parser) overwriteMap(m reflect.Value, prefix string) error {
	envMapRegexp, err := regexp.Compile(fmt.Sprintf("^%s_([A-Z0-9]+)$", strings.ToUpper(prefix)))
	if err != nil {
		return err
	}

	switch m.Type().Elem().Kind() {
	case reflect.Struct:
		for _, k := range m.MapKeys() {
			if err := p.overwriteFields(m.MapIndex(k), strings.ToUpper(fmt.Sprintf("%s_%s", prefix, k))); err != nil {
				return err
			}
		}
	case reflect.Map:
		for _, k := range m.MapKeys() {
			if err := p.overwriteMap(m.MapIndex(k), strings.ToUpper(fmt.Sprintf("%s_%s", prefix, k))); err != nil {
				return err
			}
		}
	}

	for key, val := range p.env {
		if submatches := envMapRegexp.FindStringSubmatch(key); submatches != nil {
			mapValue := reflect.New(m.Type().Elem())
			if err := yaml.Unmarshal([]byte(val), mapValue.Interface()); err != nil {
				return err
			}
			m.SetMapIndex(reflect.ValueOf(strings.ToLower(submatches[1])), reflect.Indirect(mapValue))
		}
	}
	return nil
}
