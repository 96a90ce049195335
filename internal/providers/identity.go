package providers

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Identity is the provider's own view of the connected account.
type Identity struct {
	PlatformUserID   string
	PlatformUsername string
}

type identityParser func(body []byte) (Identity, error)

var errEmptyIdentity = errors.New("user info response has no account id")

func decodeIdentity(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode user info: %w", err)
	}
	return nil
}

func identityOf(id, name string) (Identity, error) {
	if id == "" {
		return Identity{}, errEmptyIdentity
	}
	return Identity{PlatformUserID: id, PlatformUsername: name}, nil
}

func parseSpotifyIdentity(body []byte) (Identity, error) {
	var payload struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeIdentity(body, &payload); err != nil {
		return Identity{}, err
	}
	return identityOf(payload.ID, firstNonEmpty(payload.DisplayName, payload.ID))
}

func parseInstagramIdentity(body []byte) (Identity, error) {
	var payload struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := decodeIdentity(body, &payload); err != nil {
		return Identity{}, err
	}
	return identityOf(payload.ID, payload.Username)
}

func parseTikTokIdentity(body []byte) (Identity, error) {
	var payload struct {
		Data struct {
			User struct {
				OpenID      string `json:"open_id"`
				DisplayName string `json:"display_name"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := decodeIdentity(body, &payload); err != nil {
		return Identity{}, err
	}
	return identityOf(payload.Data.User.OpenID, payload.Data.User.DisplayName)
}

func parseTwitterIdentity(body []byte) (Identity, error) {
	var payload struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := decodeIdentity(body, &payload); err != nil {
		return Identity{}, err
	}
	return identityOf(payload.Data.ID, firstNonEmpty(payload.Data.Username, payload.Data.Name))
}

// YouTube identifies the account by its first channel.
func parseYouTubeIdentity(body []byte) (Identity, error) {
	var payload struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title     string `json:"title"`
				CustomURL string `json:"customUrl"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := decodeIdentity(body, &payload); err != nil {
		return Identity{}, err
	}
	if len(payload.Items) == 0 {
		return Identity{}, errEmptyIdentity
	}
	channel := payload.Items[0]
	return identityOf(channel.ID, firstNonEmpty(channel.Snippet.Title, channel.Snippet.CustomURL))
}

func parseFacebookIdentity(body []byte) (Identity, error) {
	var payload struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := decodeIdentity(body, &payload); err != nil {
		return Identity{}, err
	}
	return identityOf(payload.ID, payload.Name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
