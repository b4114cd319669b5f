package dsl

import "sort"

const DefaultMenuIcon = "bi bi-folder"

type MenuItem struct {
	Label string `json:"label"`
	Href  string `json:"href"`
	Icon  string `json:"icon"`
	Order int    `json:"order"`
}

type MenuDropdown struct {
	Category string     `json:"category"`
	Order    int        `json:"order"`
	Items    []MenuItem `json:"items"`
}

type Menu struct {
	NavLinks  []MenuItem     `json:"nav_links"`
	Dropdowns []MenuDropdown `json:"dropdowns"`
}

// BuildMenu собирает меню из деклараций: скрытые пропускаются, с
// menu_category уходят в выпадающие списки. Порядок: menu_order, затем
// заголовок. Если role не пустая, остаются только доступные ей сущности.
func BuildMenu(entities []*Entity, role string) Menu {
	m := Menu{NavLinks: []MenuItem{}, Dropdowns: []MenuDropdown{}}
	byCat := map[string]*MenuDropdown{}

	for _, e := range entities {
		if e.MenuHidden {
			continue
		}
		if role != "" && !e.Permits(role) {
			continue
		}
		icon := e.MenuIcon
		if icon == "" {
			icon = DefaultMenuIcon
		}
		item := MenuItem{Label: e.Title, Href: "/admin/" + e.Name, Icon: icon, Order: e.MenuOrder}
		if e.MenuCategory == "" {
			m.NavLinks = append(m.NavLinks, item)
			continue
		}
		dd := byCat[e.MenuCategory]
		if dd == nil {
			dd = &MenuDropdown{Category: e.MenuCategory, Order: e.MenuOrder}
			byCat[e.MenuCategory] = dd
		}
		if e.MenuOrder < dd.Order {
			dd.Order = e.MenuOrder
		}
		dd.Items = append(dd.Items, item)
	}

	sortItems(m.NavLinks)
	for _, dd := range byCat {
		sortItems(dd.Items)
		m.Dropdowns = append(m.Dropdowns, *dd)
	}
	sort.SliceStable(m.Dropdowns, func(i, j int) bool {
		if m.Dropdowns[i].Order != m.Dropdowns[j].Order {
			return m.Dropdowns[i].Order < m.Dropdowns[j].Order
		}
		return m.Dropdowns[i].Category < m.Dropdowns[j].Category
	})
	return m
}

func sortItems(items []MenuItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].Label < items[j].Label
	})
}
