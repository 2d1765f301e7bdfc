package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type boolValue bool

func (b *boolValue) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = boolValue(v)
	return nil
}

func (b *boolValue) SetValue(v interface{}) error {
	bv, ok := v.(bool)
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	*b = boolValue(bv)
	return nil
}

func (b *boolValue) String() string {
	return strconv.FormatBool(bool(*b))
}

func (_ *boolValue) Type() string {
	return "bool"
}

type intValue int

func (i *intValue) Set(s string) error {
	v, err := strconv.ParseInt(s, 0, strconv.IntSize)
	if err != nil {
		return err
	}
	*i = intValue(v)
	return nil
}

func (i *intValue) SetValue(v interface{}) error {
	iv, ok := v.(int)
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	*i = intValue(iv)
	return nil
}

func (i *intValue) String() string {
	return strconv.Itoa(int(*i))
}

func (_ *intValue) Type() string {
	return "int"
}

type int64Value int64

func (i *int64Value) Set(s string) error {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return err
	}
	*i = int64Value(v)
	return nil
}

func (i *int64Value) SetValue(v interface{}) error {
	iv, ok := v.(int)
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	*i = int64Value(iv)
	return nil
}

func (i *int64Value) String() string {
	return strconv.FormatInt(int64(*i), 10)
}

func (_ *int64Value) Type() string {
	return "int64"
}

type uint64Value uint64

func (u *uint64Value) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	*u = uint64Value(v)
	return nil
}

func (u *uint64Value) SetValue(v interface{}) error {
	iv, ok := v.(int)
	if !ok || iv < 0 {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	*u = uint64Value(iv)
	return nil
}

func (u *uint64Value) String() string {
	return strconv.FormatUint(uint64(*u), 10)
}

func (_ *uint64Value) Type() string {
	return "uint64"
}

type stringValue string

func (s *stringValue) Set(val string) error {
	*s = stringValue(val)
	return nil
}

func (s *stringValue) SetValue(v interface{}) error {
	sv, ok := v.(string)
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	return s.Set(sv)
}

func (s *stringValue) String() string {
	return string(*s)
}

func (_ *stringValue) Type() string {
	return "string"
}

type durationValue time.Duration

func (d *durationValue) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = durationValue(v)
	return nil
}

// SetValue accepts a duration string, such as "250ms", or a number of seconds.
func (d *durationValue) SetValue(v interface{}) error {
	switch v := v.(type) {
	case string:
		return d.Set(v)
	case int:
		*d = durationValue(time.Duration(v) * time.Second)
		return nil
	}
	return fmt.Errorf("parsing %v: invalid syntax", v)
}

func (d *durationValue) String() string {
	return (*time.Duration)(d).String()
}

func (_ *durationValue) Type() string {
	return "duration"
}

type Array []interface{} // int, float64, bool, string, []interface{}, map[string]interface{}

func (a *Array) Set(s string) error {
	*a = append(*a, s)
	return nil
}

func (a *Array) SetValue(v interface{}) error {
	av, ok := v.([]interface{})
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	*a = Array(av)
	return nil
}

func (a *Array) String() string {
	return fmt.Sprintf("%v", *a)
}

func (_ *Array) Type() string {
	return "array"
}

// Strings returns the elements of the array which are strings.
func (a *Array) Strings() []string {
	var ss []string
	for _, v := range *a {
		if s, ok := v.(string); ok {
			ss = append(ss, s)
		}
	}
	return ss
}

type Map map[string]interface{} // int, float64, bool, string, []interface{}, map[string]interface{}

func (m Map) Set(s string) error {
	return fmt.Errorf("parsing %s: maps may only be set in a config file", s)
}

func (m Map) SetValue(v interface{}) error {
	mv, ok := v.([]map[string]interface{})
	if !ok || len(mv) != 1 {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	for k, v := range mv[0] {
		m[k] = v
	}
	return nil
}

func (m Map) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteRune('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteRune(' ')
		}
		fmt.Fprintf(&b, "%s: %v", k, m[k])
	}
	b.WriteRune('}')
	return b.String()
}

func (_ Map) Type() string {
	return "map"
}
