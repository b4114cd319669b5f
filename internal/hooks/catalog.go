package hooks

import "fmt"

// Catalog: реестр хуков по ссылкам ("contactos.after_load" и т.п.).
// Заполняется явно при старте, до загрузки деклараций.
type Catalog struct {
	beforeLoad   map[string]BeforeLoadFunc
	afterLoad    map[string]AfterLoadFunc
	beforeSave   map[string]BeforeSaveFunc
	afterSave    map[string]AfterSaveFunc
	beforeDelete map[string]BeforeDeleteFunc
	afterDelete  map[string]AfterDeleteFunc
}

func NewCatalog() *Catalog {
	return &Catalog{
		beforeLoad:   map[string]BeforeLoadFunc{},
		afterLoad:    map[string]AfterLoadFunc{},
		beforeSave:   map[string]BeforeSaveFunc{},
		afterSave:    map[string]AfterSaveFunc{},
		beforeDelete: map[string]BeforeDeleteFunc{},
		afterDelete:  map[string]AfterDeleteFunc{},
	}
}

func (c *Catalog) OnBeforeLoad(ref string, fn BeforeLoadFunc)     { c.beforeLoad[ref] = fn }
func (c *Catalog) OnAfterLoad(ref string, fn AfterLoadFunc)       { c.afterLoad[ref] = fn }
func (c *Catalog) OnBeforeSave(ref string, fn BeforeSaveFunc)     { c.beforeSave[ref] = fn }
func (c *Catalog) OnAfterSave(ref string, fn AfterSaveFunc)       { c.afterSave[ref] = fn }
func (c *Catalog) OnBeforeDelete(ref string, fn BeforeDeleteFunc) { c.beforeDelete[ref] = fn }
func (c *Catalog) OnAfterDelete(ref string, fn AfterDeleteFunc)   { c.afterDelete[ref] = fn }

// Resolve связывает объявленные ссылки (стадия -> ref) с функциями.
// Неразрешённые ссылки не ошибка: они возвращаются в unresolved, а хук
// остаётся пустым (identity).
func (c *Catalog) Resolve(declared map[string]string) (s Set, unresolved []string) {
	if c == nil {
		c = NewCatalog()
	}
	for stage, ref := range declared {
		if s.refs == nil {
			s.refs = map[Stage]string{}
		}
		s.refs[Stage(stage)] = ref
		ok := false
		switch Stage(stage) {
		case BeforeLoad:
			s.beforeLoad, ok = c.beforeLoad[ref]
		case AfterLoad:
			s.afterLoad, ok = c.afterLoad[ref]
		case BeforeSave:
			s.beforeSave, ok = c.beforeSave[ref]
		case AfterSave:
			s.afterSave, ok = c.afterSave[ref]
		case BeforeDelete:
			s.beforeDelete, ok = c.beforeDelete[ref]
		case AfterDelete:
			s.afterDelete, ok = c.afterDelete[ref]
		}
		if !ok {
			unresolved = append(unresolved, fmt.Sprintf("%s=%s", stage, ref))
		}
	}
	return s, unresolved
}
