package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Event collections share a server relation and an event_time column; the
// per-type payload fields differ.
func init() {
	m.Register(func(app core.App) error {
		servers, err := app.FindCollectionByNameOrId("servers")
		if err != nil {
			return err
		}
		players, err := app.FindCollectionByNameOrId("players")
		if err != nil {
			return err
		}

		serverRel := func() *core.RelationField {
			return &core.RelationField{
				Name:          "server",
				Required:      true,
				CollectionId:  servers.Id,
				CascadeDelete: true,
				MaxSelect:     1,
			}
		}
		playerRel := func(name string, required bool) *core.RelationField {
			return &core.RelationField{
				Name:          name,
				Required:      required,
				CollectionId:  players.Id,
				CascadeDelete: true,
				MaxSelect:     1,
			}
		}

		newEventCollection := func(name string, extra ...core.Field) *core.Collection {
			c := core.NewBaseCollection(name)
			c.Fields.Add(serverRel())
			c.Fields.Add(extra...)
			c.Fields.Add(
				&core.DateField{Name: "event_time", Required: true},
				&core.AutodateField{Name: "created", OnCreate: true},
			)
			c.AddIndex("idx_"+name+"_server_time", false, "server, event_time", "")
			return c
		}

		collections := []*core.Collection{
			newEventCollection("event_frags",
				playerRel("killer", true),
				playerRel("victim", true),
				&core.TextField{Name: "weapon", Max: 64},
				&core.BoolField{Name: "headshot"},
				&core.TextField{Name: "map", Max: 255},
				&core.TextField{Name: "killer_team", Max: 64},
				&core.TextField{Name: "victim_team", Max: 64},
			),
			newEventCollection("event_connects",
				playerRel("player", true),
				&core.NumberField{Name: "game_user_id", OnlyInt: true},
				&core.TextField{Name: "ip_address", Max: 64},
				&core.DateField{Name: "event_time_disconnect"},
			),
			newEventCollection("event_disconnects",
				playerRel("player", true),
				&core.TextField{Name: "reason", Max: 255},
				&core.NumberField{Name: "session_duration", OnlyInt: true, Min: types.Pointer(0.0)},
			),
			newEventCollection("event_chats",
				playerRel("player", true),
				&core.TextField{Name: "message", Max: 1024},
				&core.NumberField{Name: "message_mode", OnlyInt: true},
				&core.TextField{Name: "map", Max: 255},
			),
			newEventCollection("event_changes",
				playerRel("player", true),
				&core.SelectField{Name: "change_type", Values: []string{"name", "team", "role"}, MaxSelect: 1},
				&core.TextField{Name: "old_value", Max: 255},
				&core.TextField{Name: "new_value", Max: 255},
			),
			newEventCollection("event_entries",
				playerRel("player", true),
			),
			newEventCollection("event_suicides",
				playerRel("player", true),
				&core.TextField{Name: "weapon", Max: 64},
				&core.TextField{Name: "map", Max: 255},
			),
			newEventCollection("event_teamkills",
				playerRel("killer", true),
				playerRel("victim", true),
				&core.TextField{Name: "weapon", Max: 64},
				&core.TextField{Name: "map", Max: 255},
			),
			newEventCollection("event_actions",
				playerRel("player", true),
				playerRel("victim", false),
				&core.TextField{Name: "action", Max: 128},
				&core.TextField{Name: "team", Max: 64},
				&core.NumberField{Name: "bonus", OnlyInt: true},
			),
		}

		for _, c := range collections {
			if err := app.Save(c); err != nil {
				return err
			}
		}
		return nil
	}, func(app core.App) error {
		names := []string{
			"event_actions", "event_teamkills", "event_suicides", "event_entries",
			"event_changes", "event_chats", "event_disconnects", "event_connects",
			"event_frags",
		}
		for _, name := range names {
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
