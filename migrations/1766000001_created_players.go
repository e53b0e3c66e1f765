package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		players := core.NewBaseCollection("players")
		players.Fields.Add(
			&core.TextField{Name: "last_name", Max: 255},
			&core.TextField{Name: "game", Max: 64},
			&core.NumberField{Name: "skill", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "confidence"},
			&core.NumberField{Name: "volatility"},
			&core.NumberField{Name: "kill_streak", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "death_streak", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "kills", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "deaths", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "suicides", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "teamkills", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "headshots", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "shots", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "hits", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "connection_time", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "last_event", OnlyInt: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		players.AddIndex("idx_players_game_skill", false, "game, skill", "")
		if err := app.Save(players); err != nil {
			return err
		}

		uniqueIDs := core.NewBaseCollection("player_unique_ids")
		uniqueIDs.Fields.Add(
			&core.RelationField{
				Name:          "player",
				Required:      true,
				CollectionId:  players.Id,
				CascadeDelete: true,
				MaxSelect:     1,
			},
			&core.TextField{Name: "unique_id", Required: true, Max: 128},
			&core.TextField{Name: "game", Max: 64},
			&core.AutodateField{Name: "created", OnCreate: true},
		)
		uniqueIDs.AddIndex("idx_player_unique_ids_uid_game", true, "unique_id, game", "")
		uniqueIDs.AddIndex("idx_player_unique_ids_player", false, "player", "")

		return app.Save(uniqueIDs)
	}, func(app core.App) error {
		for _, name := range []string{"player_unique_ids", "players"} {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				return err
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}
		return nil
	})
}
