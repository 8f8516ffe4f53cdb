package changefeed

import (
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	pluginName          = "neighborly:changefeed"
	callbackAfterCreate = "changefeed:after_create"
	callbackAfterUpdate = "changefeed:after_update"
	commitCallback      = "gorm:commit_or_rollback_transaction"
)

// Publisher receives store change events.
type Publisher interface {
	Publish(event Event)
}

// Plugin turns successful inserts and updates on watched tables into change events.
type Plugin struct {
	publisher Publisher
	watched   map[string]struct{}
}

// NewPlugin watches the named tables and publishes to publisher.
func NewPlugin(publisher Publisher, tables ...string) *Plugin {
	watched := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		watched[table] = struct{}{}
	}
	return &Plugin{publisher: publisher, watched: watched}
}

func (p *Plugin) Name() string {
	return pluginName
}

func (p *Plugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().After(commitCallback).Register(callbackAfterCreate, p.emit(OperationInsert)); err != nil {
		return err
	}
	return db.Callback().Update().After(commitCallback).Register(callbackAfterUpdate, p.emit(OperationUpdate))
}

func (p *Plugin) emit(operation Operation) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if p.publisher == nil || tx.Error != nil || tx.RowsAffected == 0 || tx.Statement == nil {
			return
		}
		table := tx.Statement.Table
		if _, ok := p.watched[table]; !ok {
			return
		}
		p.publisher.Publish(Event{
			Collection: table,
			Operation:  operation,
			RecordIDs:  primaryKeys(tx.Statement),
		})
	}
}

// primaryKeys extracts string primary keys from the statement's model or destination.
func primaryKeys(statement *gorm.Statement) []string {
	if statement.Schema == nil || statement.Schema.PrioritizedPrimaryField == nil {
		return nil
	}
	field := statement.Schema.PrioritizedPrimaryField
	var ids []string
	collect := func(value reflect.Value) {
		ids = appendKey(ids, field, statement, value)
	}
	for _, candidate := range []any{statement.Model, statement.Dest} {
		if candidate == nil {
			continue
		}
		value := reflect.Indirect(reflect.ValueOf(candidate))
		switch value.Kind() {
		case reflect.Slice, reflect.Array:
			for index := 0; index < value.Len(); index++ {
				collect(reflect.Indirect(value.Index(index)))
			}
		case reflect.Struct:
			collect(value)
		}
		if len(ids) > 0 {
			return ids
		}
	}
	return ids
}

func appendKey(ids []string, field *schema.Field, statement *gorm.Statement, value reflect.Value) []string {
	if value.Kind() != reflect.Struct || value.Type() != statement.Schema.ModelType {
		return ids
	}
	raw, zero := field.ValueOf(statement.Context, value)
	if zero {
		return ids
	}
	if key, ok := raw.(string); ok && key != "" {
		return append(ids, key)
	}
	return ids
}
