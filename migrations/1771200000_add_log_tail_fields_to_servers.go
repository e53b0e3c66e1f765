package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("servers")
		if err != nil {
			return err
		}

		collection.Fields.Add(
			&core.TextField{Name: "log_file", Max: 512},
			&core.NumberField{Name: "log_offset", OnlyInt: true, Min: types.Pointer(0.0)},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("servers")
		if err != nil {
			return err
		}

		collection.Fields.RemoveByName("log_file")
		collection.Fields.RemoveByName("log_offset")

		return app.Save(collection)
	})
}
