package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("servers")

		collection.Fields.Add(
			&core.TextField{Name: "external_id", Required: true, Max: 64},
			&core.TextField{Name: "name", Max: 255},
			&core.TextField{Name: "game", Max: 64},
			&core.TextField{Name: "address", Max: 255},
			&core.TextField{Name: "rcon_address", Max: 255},
			&core.TextField{Name: "rcon_password", Max: 255, Hidden: true},
			&core.SelectField{Name: "engine_type", Values: []string{"goldsrc", "source"}, MaxSelect: 1},
			&core.BoolField{Name: "ignore_bots"},
			&core.NumberField{Name: "min_players", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.TextField{Name: "broadcast_command", Max: 64},
			&core.TextField{Name: "broadcast_command_announce", Max: 64},
			&core.BoolField{Name: "color_enabled"},
			&core.JSONField{Name: "notify_event_types", MaxSize: 4096},
			&core.TextField{Name: "current_map", Max: 255},
			&core.NumberField{Name: "active_players", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "max_players", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.DateField{Name: "last_authenticated"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_servers_external_id", true, "external_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("servers")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
