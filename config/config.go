// Package config binds typed variables to command line flags, environment
// variables, and an HCL config file. A flag beats the environment, which beats the
// config file, which beats the default.
package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"
)

type Value interface {
	pflag.Value
	SetValue(v interface{}) error
}

type by int

const (
	byDefault by = iota
	byConfig
	byEnv
	byFlag
)

func (b by) String() string {
	switch b {
	case byDefault:
		return "default"
	case byConfig:
		return "config"
	case byEnv:
		return "env"
	case byFlag:
		return "flag"
	}
	panic(fmt.Sprintf("config: unexpected by: %d", int(b)))
}

type Config struct {
	fs   *pflag.FlagSet
	vars map[string]*Var
}

type Var struct {
	cfg      *Config
	name     string
	usage    string
	env      string
	noConfig bool
	hide     bool
	p        interface{}
	val      Value
	by       by
}

// flagValue marks its variable as set by flag.
type flagValue struct {
	*Var
}

func (fv flagValue) Set(s string) error {
	err := fv.val.Set(s)
	if err != nil {
		return err
	}
	fv.by = byFlag
	return nil
}

func (fv flagValue) String() string {
	return fv.val.String()
}

func (fv flagValue) Type() string {
	return fv.val.Type()
}

func NewConfig(fs *pflag.FlagSet) *Config {
	return &Config{
		fs:   fs,
		vars: map[string]*Var{},
	}
}

// Var starts the definition of a config variable stored at p; finish it with the
// method matching the type of p.
func (c *Config) Var(p interface{}, name string) *Var {
	if _, ok := c.vars[name]; ok {
		panic(fmt.Sprintf("config: variable redefined: %s", name))
	}
	return &Var{
		cfg:  c,
		name: name,
		p:    p,
	}
}

func (v *Var) isMap() bool {
	_, ok := v.p.(Map)
	return ok
}

// Usage makes a flag for the variable.
func (v *Var) Usage(usage string) *Var {
	if v.isMap() {
		panic(fmt.Sprintf("config: map variable %s can't be a flag", v.name))
	}
	v.usage = usage
	return v
}

// Env makes the variable settable from the environment variable env.
func (v *Var) Env(env string) *Var {
	if v.isMap() {
		panic(fmt.Sprintf("config: map variable %s can't be set from the environment", v.name))
	}
	v.env = env
	return v
}

// NoConfig keeps the variable from being set in a config file.
func (v *Var) NoConfig() *Var {
	v.noConfig = true
	return v
}

// Hide keeps the flag out of usage messages.
func (v *Var) Hide() *Var {
	v.hide = true
	return v
}

func (v *Var) define(val Value) {
	v.val = val
	v.cfg.vars[v.name] = v
	if v.usage != "" && v.cfg.fs != nil {
		v.cfg.fs.Var(flagValue{v}, v.name, v.usage)
		if v.hide {
			v.cfg.fs.MarkHidden(v.name)
		}
	}
}

func (v *Var) Bool(b bool) *bool {
	p := v.p.(*bool)
	*p = b
	v.define((*boolValue)(p))
	if v.cfg.fs != nil {
		if flg := v.cfg.fs.Lookup(v.name); flg != nil {
			flg.NoOptDefVal = "true"
		}
	}
	return p
}

func (v *Var) Int(i int) *int {
	p := v.p.(*int)
	*p = i
	v.define((*intValue)(p))
	return p
}

func (v *Var) Int64(i int64) *int64 {
	p := v.p.(*int64)
	*p = i
	v.define((*int64Value)(p))
	return p
}

func (v *Var) Uint64(u uint64) *uint64 {
	p := v.p.(*uint64)
	*p = u
	v.define((*uint64Value)(p))
	return p
}

func (v *Var) String(s string) *string {
	p := v.p.(*string)
	*p = s
	v.define((*stringValue)(p))
	return p
}

func (v *Var) Duration(d time.Duration) *time.Duration {
	p := v.p.(*time.Duration)
	*p = d
	v.define((*durationValue)(p))
	return p
}

// Array defines a variable holding a list; each use of its flag appends a string.
func (v *Var) Array() *Array {
	p := v.p.(*Array)
	v.define(p)
	return p
}

// Map defines a variable that can only be set in a config file.
func (v *Var) Map() Map {
	m := v.p.(Map)
	v.define(m)
	return m
}

// Env sets every variable with an environment variable which is present and was not
// set by flag.
func (c *Config) Env() error {
	for _, v := range c.sorted() {
		if v.env == "" || v.by == byFlag {
			continue
		}
		s, ok := os.LookupEnv(v.env)
		if !ok {
			continue
		}
		err := v.val.Set(s)
		if err != nil {
			return fmt.Errorf("config: %s: %s: %s", v.name, v.env, err)
		}
		v.by = byEnv
	}
	return nil
}

// Load reads the config file at path; variables already set by flag or environment
// keep their values.
func (c *Config) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	err = c.load(f)
	if err != nil {
		return fmt.Errorf("config: %s: %s", path, err)
	}
	return nil
}

func (c *Config) sorted() []*Var {
	vars := make([]*Var, 0, len(c.vars))
	for _, v := range c.vars {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].name < vars[j].name })
	return vars
}

// Vars calls fn with each variable, by name, along with how it was set.
func (c *Config) Vars(fn func(name, by, val string)) {
	for _, v := range c.sorted() {
		fn(v.name, v.by.String(), v.val.String())
	}
}

// List writes each variable as name=value.
func (c *Config) List(w io.Writer) {
	c.Vars(
		func(name, by, val string) {
			fmt.Fprintf(w, "%s=%s\n", name, val)
		})
}
