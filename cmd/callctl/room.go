package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mossy-p/call-signaling/internal/models"
)

var flagMaxParticipants int

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Reserve, inspect and delete rooms",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Reserve a room with a shareable code (requires --token)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := roomAPI()
		if err != nil {
			return err
		}
		var body any
		if flagMaxParticipants > 0 {
			body = models.CreateRoomRequest{MaxParticipants: flagMaxParticipants}
		}
		var resp models.CreateRoomResponse
		if err := api.do(cmd.Context(), http.MethodPost, "/api/rooms", body, &resp); err != nil {
			return err
		}
		printTitle("Room reserved")
		printField("id", resp.RoomID)
		printField("code", resp.Code)
		return nil
	},
}

var roomGetCmd = &cobra.Command{
	Use:   "get <id-or-code>",
	Short: "Show a reservation and who is in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := roomAPI()
		if err != nil {
			return err
		}
		var room models.RoomMetadata
		if err := api.do(cmd.Context(), http.MethodGet, "/api/rooms/"+url.PathEscape(args[0]), nil, &room); err != nil {
			return err
		}
		printTitle("Room %s", room.Code)
		printField("id", room.ID)
		printField("creator", room.CreatorID)
		printField("created", room.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		printField("participants", fmt.Sprintf("%d/%d %s",
			room.ParticipantCount, room.MaxParticipants, strings.Join(room.Participants, ", ")))
		return nil
	},
}

var roomDeleteCmd = &cobra.Command{
	Use:   "delete <id-or-code>",
	Short: "Delete a reservation you created and disconnect its participants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := roomAPI()
		if err != nil {
			return err
		}
		if err := api.do(cmd.Context(), http.MethodDelete, "/api/rooms/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		printTitle("Room %s deleted", args[0])
		return nil
	},
}

func init() {
	roomCreateCmd.Flags().IntVar(&flagMaxParticipants, "max", 0, "participant limit (server default when 0)")
	roomCmd.AddCommand(roomCreateCmd, roomGetCmd, roomDeleteCmd)
}

func roomAPI() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	base, err := apiBase(cfg)
	if err != nil {
		return nil, err
	}
	return newAPIClient(base, flagToken), nil
}
