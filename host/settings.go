// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/beevik/maestro/vm"
	"github.com/beevik/prefixtree/v2"
)

type settings struct {
	Variant       string `doc:"controller variant to compile for"`
	Verbose       bool   `doc:"verbose compiler output"`
	WriteCRC      bool   `doc:"store and verify the checksum on upload"`
	SettleDelayMs int    `doc:"milliseconds to wait after a reinitialize"`
	Serial        string `doc:"serial number of the device to open"`
	ListLines     int    `doc:"default number of source lines to list"`
}

func newSettings(c *Config) *settings {
	return &settings{
		Variant:       c.Variant,
		Verbose:       c.Verbose,
		WriteCRC:      c.WriteCRC,
		SettleDelayMs: c.SettleDelayMs,
		Serial:        c.Serial,
		ListLines:     c.ListLines,
	}
}

func (s *settings) config() *Config {
	return &Config{
		Variant:       s.Variant,
		Verbose:       s.Verbose,
		WriteCRC:      s.WriteCRC,
		SettleDelayMs: s.SettleDelayMs,
		Serial:        s.Serial,
		ListLines:     s.ListLines,
	}
}

func (s *settings) variant() vm.Variant {
	v, err := vm.ParseVariant(s.Variant)
	if err != nil {
		return vm.Micro
	}
	return v
}

func (s *settings) settleDelay() time.Duration {
	return time.Duration(s.SettleDelayMs) * time.Millisecond
}

type settingsField struct {
	name  string
	index int
	kind  reflect.Kind
	typ   reflect.Type
	doc   string
}

var (
	settingsTree   = prefixtree.New[*settingsField]()
	settingsFields []settingsField
)

func init() {
	settingsType := reflect.TypeOf(settings{})
	settingsFields = make([]settingsField, settingsType.NumField())
	for i := 0; i < len(settingsFields); i++ {
		f := settingsType.Field(i)
		doc, _ := f.Tag.Lookup("doc")
		settingsFields[i] = settingsField{
			name:  f.Name,
			index: i,
			kind:  f.Type.Kind(),
			typ:   f.Type,
			doc:   doc,
		}
		settingsTree.Add(strings.ToLower(f.Name), &settingsFields[i])
	}
}

func (s *settings) Display(w io.Writer) {
	value := reflect.ValueOf(s).Elem()
	for i, f := range settingsFields {
		v := value.Field(i)
		var s string
		switch f.kind {
		case reflect.String:
			s = fmt.Sprintf("    %-16s \"%s\"", f.name, v.String())
		default:
			s = fmt.Sprintf("    %-16s %v", f.name, v)
		}
		fmt.Fprintf(w, "%-32s (%s)\n", s, f.doc)
	}
}

func (s *settings) Kind(key string) reflect.Kind {
	f, err := settingsTree.FindValue(strings.ToLower(key))
	if err != nil {
		return reflect.Invalid
	}
	return f.kind
}

func (s *settings) Set(key string, value any) error {
	f, err := settingsTree.FindValue(strings.ToLower(key))
	if err != nil {
		return err
	}

	vIn := reflect.ValueOf(value)
	if (f.kind == reflect.String && vIn.Type().Kind() != reflect.String) ||
		(f.kind != reflect.String && vIn.Type().Kind() == reflect.String) ||
		!vIn.Type().ConvertibleTo(f.typ) {
		return errors.New("invalid type")
	}
	vInConverted := vIn.Convert(f.typ)

	vOut := reflect.ValueOf(s).Elem().Field(f.index).Addr().Elem()
	vOut.Set(vInConverted)

	return nil
}
