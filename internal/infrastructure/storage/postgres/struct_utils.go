package postgres

import (
	"reflect"
	"sync"
)

// columnField locates one db-tagged field, following embedded structs.
type columnField struct {
	column string
	index  []int
}

var columnCache sync.Map // map[reflect.Type][]columnField

func columnFields(t reflect.Type) []columnField {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := columnCache.Load(t); ok {
		return cached.([]columnField)
	}

	var fields []columnField
	if t.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(t) {
			if f.Anonymous {
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			fields = append(fields, columnField{column: tag, index: f.Index})
		}
	}

	columnCache.Store(t, fields)
	return fields
}

// ExtractDBColumns lists the "db" tag of every field of T, embedded structs included,
// in declaration order.
func ExtractDBColumns[T any]() []string {
	fields := columnFields(reflect.TypeOf((*T)(nil)).Elem())
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.column
	}
	return cols
}

// StructToMap maps column name to field value for a db-tagged struct or pointer to one.
func StructToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	fields := columnFields(rv.Type())
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return out
}
