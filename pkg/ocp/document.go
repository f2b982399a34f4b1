package ocp

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/yaml"
)

// Identity names one declarative resource. Construction has no remote effect.
type Identity struct {
	APIVersion string
	Kind       string
	Namespace  string
	Name       string
}

// Document is the full desired or observed state of one resource, kept as a
// schema-free tree. Entities with a known schema are decoded into typed
// structs at the point of use instead.
type Document map[string]interface{}

// ParseDocument decodes a single YAML document, stripping any non-payload
// preamble line the CLI wrapper may have prepended.
func ParseDocument(raw []byte) (Document, error) {
	doc := Document{}
	if err := yaml.Unmarshal(stripPreamble(raw), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseDocumentList decodes the v1 List envelope that the CLI emits for
// selector queries.
func ParseDocumentList(raw []byte) ([]Document, error) {
	list := struct {
		Items []Document `json:"items"`
	}{}
	if err := yaml.Unmarshal(stripPreamble(raw), &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (d Document) APIVersion() string {
	v, _, _ := unstructured.NestedString(d, "apiVersion")
	return v
}

func (d Document) Kind() string {
	v, _, _ := unstructured.NestedString(d, "kind")
	return v
}

func (d Document) Name() string {
	v, _, _ := unstructured.NestedString(d, "metadata", "name")
	return v
}

func (d Document) Namespace() string {
	v, _, _ := unstructured.NestedString(d, "metadata", "namespace")
	return v
}

func (d Document) Identity() Identity {
	return Identity{
		APIVersion: d.APIVersion(),
		Kind:       d.Kind(),
		Namespace:  d.Namespace(),
		Name:       d.Name(),
	}
}

// NestedString returns the string at the given path, or "" when absent.
func (d Document) NestedString(fields ...string) string {
	v, _, _ := unstructured.NestedString(d, fields...)
	return v
}

// Decode unmarshals the document into a typed object for entities whose
// schema is known.
func (d Document) Decode(into interface{}) error {
	raw, err := yaml.Marshal(map[string]interface{}(d))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, into)
}

func (d Document) DeepCopy() Document {
	return Document(runtime.DeepCopyJSON(d))
}

func (d Document) Marshal() ([]byte, error) {
	return yaml.Marshal(map[string]interface{}(d))
}
