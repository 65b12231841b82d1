package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// lookupFunc resolves a variable name, reporting whether it is set.
type lookupFunc func(string) (string, bool)

// loadFromEnv loads configuration values from environment variables
func loadFromEnv(cfg *Config) error {
	return loadFromLookup(cfg, os.LookupEnv)
}

// loadFromLookup applies every `env`-tagged field found in cfg, including
// nested adapter configs, from lookup.
func loadFromLookup(cfg *Config, lookup lookupFunc) error {
	return loadFromEnvRecursive(cfg, lookup)
}

func loadFromEnvRecursive(v any, lookup lookupFunc) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr {
		return fmt.Errorf("expected pointer, got %s", val.Kind())
	}

	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected struct, got %s", val.Kind())
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Recurse into nested structs to honor their env tags
		if field.Kind() == reflect.Struct {
			if field.CanAddr() {
				if err := loadFromEnvRecursive(field.Addr().Interface(), lookup); err != nil {
					return err
				}
			}
			continue
		}

		envVar := fieldType.Tag.Get("env")
		if envVar == "" {
			continue
		}

		envValue, ok := lookup(envVar)
		if !ok || strings.TrimSpace(envValue) == "" {
			continue
		}

		// Set the field value based on its type
		if err := setFieldValue(field, fieldType, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env var %s: %w", fieldType.Name, envVar, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue converts value to the field's kind and assigns it.
func setFieldValue(field reflect.Value, fieldType reflect.StructField, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field %s is not settable", fieldType.Name)
	}

	t := fieldType.Type
	switch {
	case t == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		field.SetInt(int64(d))
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String:
		items := reflect.MakeSlice(t, 0, 4)
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = reflect.Append(items, reflect.ValueOf(part).Convert(t.Elem()))
			}
		}
		field.Set(items)
	case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String && t.Elem().Kind() == reflect.String:
		m := reflect.MakeMap(t)
		for _, pair := range strings.Split(value, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return fmt.Errorf("invalid map entry %q, want key=value", pair)
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), reflect.ValueOf(v).Convert(t.Elem()))
		}
		field.Set(m)
	default:
		return setScalar(field, value)
	}
	return nil
}

func setScalar(field reflect.Value, value string) error {
	var err error
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		var b bool
		if b, err = strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if n, err = strconv.ParseInt(value, 10, field.Type().Bits()); err == nil {
			field.SetInt(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		if n, err = strconv.ParseUint(value, 10, field.Type().Bits()); err == nil {
			field.SetUint(n)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = strconv.ParseFloat(value, field.Type().Bits()); err == nil {
			field.SetFloat(f)
		}
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	if err != nil {
		return fmt.Errorf("invalid %s value %q", field.Kind(), value)
	}
	return nil
}
