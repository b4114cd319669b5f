// Package i18n хранит переводы интерфейса: вложенные YAML-каталоги по локалям,
// поиск по ключу через точку ("common.save"), подстановка {name}.
package i18n

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

const DefaultLocale = "en"

// Catalog: переводы всех локалей. Не меняется после загрузки.
type Catalog struct {
	locales  map[string]map[string]string // локаль -> плоский ключ -> текст
	fallback string
	matcher  language.Matcher
	tags     []string
}

// Load читает встроенные каталоги и поверх них *.yaml из dir (если dir
// задан и существует). Имя файла: локаль.
func Load(dir, fallback string) (*Catalog, error) {
	c := &Catalog{locales: map[string]map[string]string{}, fallback: fallback}
	if c.fallback == "" {
		c.fallback = DefaultLocale
	}
	if err := c.loadFS(builtin, "locales"); err != nil {
		return nil, err
	}
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			if err := c.loadFS(os.DirFS(dir), "."); err != nil {
				return nil, err
			}
		}
	}
	c.buildMatcher()
	return c, nil
}

// MustBuiltin: только встроенные каталоги (тесты, запасной вариант).
func MustBuiltin() *Catalog {
	c, err := Load("", DefaultLocale)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		b, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, e.Name())))
		if err != nil {
			return err
		}
		var tree map[string]any
		if err := yaml.Unmarshal(b, &tree); err != nil {
			return fmt.Errorf("i18n %s: %w", e.Name(), err)
		}
		locale := strings.TrimSuffix(e.Name(), ext)
		flat := c.locales[locale]
		if flat == nil {
			flat = map[string]string{}
			c.locales[locale] = flat
		}
		flatten("", tree, flat)
	}
	return nil
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]any:
			flatten(key, vv, out)
		case string:
			out[key] = vv
		case nil:
		default:
			out[key] = fmt.Sprint(vv)
		}
	}
}

func (c *Catalog) buildMatcher() {
	c.tags = c.tags[:0]
	for l := range c.locales {
		c.tags = append(c.tags, l)
	}
	sort.Strings(c.tags)
	// fallback первым: его выбирает matcher при отсутствии совпадения
	tags := []language.Tag{language.Make(c.fallback)}
	for _, l := range c.tags {
		if l != c.fallback {
			tags = append(tags, language.Make(l))
		}
	}
	c.matcher = language.NewMatcher(tags)
}

// Locales: загруженные локали.
func (c *Catalog) Locales() []string { return append([]string(nil), c.tags...) }

// Match выбирает поддерживаемую локаль по списку предпочтений:
// явный ?lang=, cookie, затем Accept-Language.
func (c *Catalog) Match(prefs ...string) string {
	for _, p := range prefs {
		if p == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(p)
		if err != nil || len(tags) == 0 {
			continue
		}
		_, idx, conf := c.matcher.Match(tags...)
		if conf == language.No {
			continue
		}
		return c.supported()[idx]
	}
	return c.fallback
}

func (c *Catalog) supported() []string {
	out := []string{c.fallback}
	for _, l := range c.tags {
		if l != c.fallback {
			out = append(out, l)
		}
	}
	return out
}

// T переводит ключ. args это пары имя, значение для {name}. Без перевода
// в локали берётся fallback, нет и там, возвращается сам ключ.
func (c *Catalog) T(locale, key string, args ...any) string {
	s, ok := c.locales[locale][key]
	if !ok {
		s, ok = c.locales[c.fallback][key]
	}
	if !ok {
		return key
	}
	for i := 0; i+1 < len(args); i += 2 {
		s = strings.ReplaceAll(s, "{"+fmt.Sprint(args[i])+"}", fmt.Sprint(args[i+1]))
	}
	return s
}

// Localizer: каталог, привязанный к локали запроса. Шаблоны зовут .T.
type Localizer struct {
	c      *Catalog
	Locale string
}

func (c *Catalog) For(locale string) Localizer { return Localizer{c: c, Locale: locale} }

func (l Localizer) T(key string, args ...any) string {
	if l.c == nil {
		return key
	}
	return l.c.T(l.Locale, key, args...)
}

type localeKey struct{}

func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// LocaleFrom: локаль из контекста или "" если не задана.
func LocaleFrom(ctx context.Context) string {
	v, _ := ctx.Value(localeKey{}).(string)
	return v
}
