package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// formInputsPath locates login inputs in a config document.
var formInputsPath = []string{"authOptions", "form", "inputs"}

// errInputsMapUnsupported is returned for the selector map form in file
// formats whose key order cannot be recovered.
var errInputsMapUnsupported = errors.New(
	"authOptions.form.inputs: selector map form is only read from JSON or YAML files; " +
		"use a list of {selector, value} entries")

// fileFormInputs re-reads selector->value login inputs from the raw config
// file. viper folds key case and splits keys on dots, and CSS selectors
// survive neither. It returns nil when the file uses the list form.
func fileFormInputs(v *viper.Viper) ([]FormInput, error) {
	if _, isMap := v.Get(strings.Join(formInputsPath, ".")).(map[string]any); !isMap {
		return nil, nil
	}
	path := v.ConfigFileUsed()
	// #nosec G304 -- the path is the config file viper already read.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read form inputs: %w", err)
	}
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "json":
		return jsonFormInputs(raw)
	case "yaml", "yml":
		return yamlFormInputs(raw)
	default:
		return nil, errInputsMapUnsupported
	}
}

func jsonFormInputs(raw []byte) ([]FormInput, error) {
	node := json.RawMessage(raw)
	for _, key := range formInputsPath {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(node, &obj); err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		next, ok := lookupFold(obj, key)
		if !ok {
			return nil, nil
		}
		node = next
	}
	return jsonObjectInputs(node)
}

// jsonObjectInputs decodes a JSON object of selector->value pairs, keeping
// the order the keys were written in.
func jsonObjectInputs(raw []byte) ([]FormInput, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errors.New("form inputs: expected a JSON object")
	}
	var inputs []FormInput
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("form inputs: %w", err)
		}
		selector, _ := tok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("form input %q: %w", selector, err)
		}
		text, err := scalarText(value)
		if err != nil {
			return nil, fmt.Errorf("form input %q: %w", selector, err)
		}
		inputs = append(inputs, FormInput{Selector: selector, Value: text})
	}
	return inputs, nil
}

func scalarText(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", errors.New("value must be a string, number or boolean")
	}
}

func yamlFormInputs(raw []byte) ([]FormInput, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("read form inputs: %w", err)
	}
	node := &doc
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	for _, key := range formInputsPath {
		if node = yamlChild(node, key); node == nil {
			return nil, nil
		}
	}
	if node.Kind != yaml.MappingNode {
		return nil, errors.New("form inputs: expected a mapping")
	}
	inputs := make([]FormInput, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		selector, value := node.Content[i].Value, deref(node.Content[i+1])
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("form input %q: value must be a scalar", selector)
		}
		text := value.Value
		if value.Tag == "!!null" {
			text = ""
		}
		inputs = append(inputs, FormInput{Selector: selector, Value: text})
	}
	return inputs, nil
}

func yamlChild(node *yaml.Node, key string) *yaml.Node {
	node = deref(node)
	if node.Kind != yaml.MappingNode {
		return nil
	}
	var folded *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch k := node.Content[i].Value; {
		case k == key:
			return deref(node.Content[i+1])
		case folded == nil && strings.EqualFold(k, key):
			folded = deref(node.Content[i+1])
		}
	}
	return folded
}

func deref(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

// lookupFold matches config keys the way viper does, ignoring case.
func lookupFold[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}
