package endpoint

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// maxBodyBytes bounds the JSON body read by Unmarshal.
var maxBodyBytes int64 = 1 << 20

// defaultFieldLimit is the maximum byte length of a single decoded value
// unless the field carries a maxLength tag.
const defaultFieldLimit = 16 * 1024

// Unmarshal populates dst, a non-nil pointer to a struct, from the request.
//
// Supported struct tags, in order of precedence:
//   - `path:"name"`    r.PathValue(name)
//   - `query:"name"`   URL query
//   - `form:"name"`    url-encoded POST form
//   - `header:"name"`  request header
//   - `cookie:"name"`  cookie value
//
// A field tagged `body:"json"` receives the JSON-decoded request body.
// `maxLength:"n"` limits a value to n bytes (0 disables the limit).
// Supported field kinds are string, bool, integers, and types implementing
// encoding.TextUnmarshaler. Missing values leave the field unchanged.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: unsupported params kind %s", root.Kind()))
	}
	return unmarshalStruct(r, root)
}

type source struct {
	tag   string
	fetch func(r *http.Request, name string) (string, bool)
}

var sources = []source{
	{"path", func(r *http.Request, name string) (string, bool) {
		v := r.PathValue(name)
		return v, v != ""
	}},
	{"query", func(r *http.Request, name string) (string, bool) {
		q := r.URL.Query()
		if !q.Has(name) {
			return "", false
		}
		return q.Get(name), true
	}},
	{"form", func(r *http.Request, name string) (string, bool) {
		if !isFormRequest(r) {
			return "", false
		}
		if err := r.ParseForm(); err != nil {
			return "", false
		}
		if _, ok := r.PostForm[name]; !ok {
			return "", false
		}
		return r.PostForm.Get(name), true
	}},
	{"header", func(r *http.Request, name string) (string, bool) {
		vals := r.Header.Values(name)
		if len(vals) == 0 {
			return "", false
		}
		return vals[0], true
	}},
	{"cookie", func(r *http.Request, name string) (string, bool) {
		c, err := r.Cookie(name)
		if err != nil {
			return "", false
		}
		return c.Value, true
	}},
}

func isFormRequest(r *http.Request) bool {
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
		return false
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}

func unmarshalStruct(r *http.Request, sv reflect.Value) error {
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		field := sv.Field(i)
		if !sf.IsExported() {
			continue
		}

		if sf.Anonymous && field.Kind() == reflect.Struct {
			if err := unmarshalStruct(r, field); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("body") == "json" {
			if err := decodeJSONBody(r, field); err != nil {
				return err
			}
			continue
		}

		limit, err := fieldLimit(sf)
		if err != nil {
			return Error(http.StatusInternalServerError, "", err)
		}

		for _, src := range sources {
			name, ok := sf.Tag.Lookup(src.tag)
			if !ok || name == "-" {
				continue
			}
			if name == "" {
				name = strings.ToLower(sf.Name)
			}
			raw, found := src.fetch(r, name)
			if !found {
				continue
			}
			if limit > 0 && len(raw) > limit {
				return Error(http.StatusBadRequest, fmt.Sprintf("%s exceeds maximum length of %d bytes", name, limit), nil)
			}
			if err := setField(field, raw); err != nil {
				return Error(http.StatusBadRequest, fmt.Sprintf("invalid value for %s", name), err)
			}
			break
		}
	}
	return nil
}

func fieldLimit(sf reflect.StructField) (int, error) {
	tag, ok := sf.Tag.Lookup("maxLength")
	if !ok {
		return defaultFieldLimit, nil
	}
	if tag == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(tag)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("endpoint: decode: invalid maxLength %q on %s", tag, sf.Name)
	}
	return n, nil
}

func decodeJSONBody(r *http.Request, field reflect.Value) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return Error(http.StatusUnsupportedMediaType, "expected application/json body", err)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(field.Addr().Interface()); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return Error(http.StatusBadRequest, "malformed JSON body", err)
	}
	return nil
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

func setField(v reflect.Value, raw string) error {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return setField(v.Elem(), raw)
	}
	if v.CanAddr() && v.Addr().Type().Implements(textUnmarshalerType) {
		return v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw))
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	default:
		return fmt.Errorf("unsupported field kind %s", v.Kind())
	}
	return nil
}
