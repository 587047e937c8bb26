package codegen

import (
	"fmt"
	"strings"
)

// Field is one named struct field or struct-variant field.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Variant is one enum variant: unit when both Tuple and Fields are empty,
// tuple when Tuple is set, struct when Fields is set.
type Variant struct {
	Name   string   `json:"name"`
	Tuple  []string `json:"tuple,omitempty"`
	Fields []Field  `json:"fields,omitempty"`
}

func deriveLine(derives []string) string {
	if len(derives) == 0 {
		return ""
	}
	return fmt.Sprintf("#[derive(%s)]\n", strings.Join(derives, ", "))
}

// RenderStruct renders a public struct with named fields.
func RenderStruct(name string, fields []Field, derives []string) (string, error) {
	if err := validIdent(name, "struct"); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(deriveLine(derives))
	if len(fields) == 0 {
		fmt.Fprintf(&b, "pub struct %s;\n", name)
		return b.String(), nil
	}
	fmt.Fprintf(&b, "pub struct %s {\n", name)
	for _, f := range fields {
		if err := validIdent(f.Name, "field"); err != nil {
			return "", err
		}
		if strings.TrimSpace(f.Type) == "" {
			return "", fmt.Errorf("field %q is missing a type", f.Name)
		}
		fmt.Fprintf(&b, "    pub %s: %s,\n", f.Name, f.Type)
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// RenderEnum renders a public enum with unit, tuple and struct variants.
func RenderEnum(name string, variants []Variant, derives []string) (string, error) {
	if err := validIdent(name, "enum"); err != nil {
		return "", err
	}
	if len(variants) == 0 {
		return "", fmt.Errorf("enum %q needs at least one variant", name)
	}
	var b strings.Builder
	b.WriteString(deriveLine(derives))
	fmt.Fprintf(&b, "pub enum %s {\n", name)
	for _, v := range variants {
		if err := validIdent(v.Name, "variant"); err != nil {
			return "", err
		}
		switch {
		case len(v.Fields) > 0:
			fmt.Fprintf(&b, "    %s {\n", v.Name)
			for _, f := range v.Fields {
				if err := validIdent(f.Name, "field"); err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "        %s: %s,\n", f.Name, f.Type)
			}
			b.WriteString("    },\n")
		case len(v.Tuple) > 0:
			fmt.Fprintf(&b, "    %s(%s),\n", v.Name, strings.Join(v.Tuple, ", "))
		default:
			fmt.Fprintf(&b, "    %s,\n", v.Name)
		}
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// RenderTraitImpl renders an impl skeleton with todo!() bodies for the given
// method signatures. Without signatures the impl block is empty, which is
// valid for marker traits.
func RenderTraitImpl(traitName, typeName string, methods []string) (string, error) {
	if err := validIdent(traitName, "trait"); err != nil {
		return "", err
	}
	if err := validIdent(typeName, "type"); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "impl %s for %s {\n", traitName, typeName)
	for _, sig := range methods {
		sig = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sig), ";"))
		if sig == "" {
			continue
		}
		fmt.Fprintf(&b, "    %s {\n        todo!()\n    }\n", sig)
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// RenderTestModule renders a #[cfg(test)] module with one test per case
// name, or a single placeholder test when no cases are given.
func RenderTestModule(targetFunction string, cases []string) (string, error) {
	if err := validIdent(targetFunction, "function"); err != nil {
		return "", err
	}
	if len(cases) == 0 {
		cases = []string{"works"}
	}
	var b strings.Builder
	b.WriteString("#[cfg(test)]\nmod tests {\n    use super::*;\n")
	for _, c := range cases {
		testName := targetFunction + "_" + sanitizeTestName(c)
		fmt.Fprintf(&b, "\n    #[test]\n    fn %s() {\n        todo!(\"exercise %s: %s\");\n    }\n",
			testName, targetFunction, c)
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func sanitizeTestName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "_"):
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
