package libcal

import "encoding/json"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Location is an entry of /1.1/space/locations.
type Location struct {
	LID    int64  `json:"lid"`
	Name   string `json:"name"`
	Public int    `json:"public"`
}

// LocationCategories is an entry of /1.1/space/categories/{lid}.
type LocationCategories struct {
	LID        int64      `json:"lid"`
	Name       string     `json:"name"`
	Categories []Category `json:"categories"`
}

type Category struct {
	CID    int64  `json:"cid"`
	FormID int64  `json:"formid"`
	Name   string `json:"name"`
	Public int    `json:"public"`
}

// CategoryItems is an entry of /1.1/space/category/{cid}. Items are kept raw
// so the full payload can be stored alongside the room.
type CategoryItems struct {
	CID   int64             `json:"cid"`
	Name  string            `json:"name"`
	Items []json.RawMessage `json:"items"`
}

// Item holds the fields of a space item the synchronizer maps explicitly.
type Item struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
