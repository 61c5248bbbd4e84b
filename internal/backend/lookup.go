package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vbonduro/tileconsole/internal/domain"
)

// LookupList describes where a reference list lives and how its rows are keyed.
type LookupList struct {
	Attribute domain.Attribute
	Path      string
	IDKey     string
	NameKey   string
}

// LookupLists are the six reference lists an add-tile form is resolved against.
var LookupLists = []LookupList{
	{domain.AttrCategory, "/GetCategoryList", "cat_id", "cat_name"},
	{domain.AttrApplication, "/GetApplicationList", "app_id", "app_name"},
	{domain.AttrSpace, "/GetSpaceList", "space_id", "space_name"},
	{domain.AttrSize, "/GetSizeList", "size_id", "size_name"},
	{domain.AttrFinish, "/GetFinishList", "finish_id", "finish_name"},
	{domain.AttrColor, "/GetColorList", "color_id", "color_name"},
}

// ListFor returns the lookup list definition for attribute a.
func ListFor(a domain.Attribute) (LookupList, bool) {
	for _, l := range LookupLists {
		if l.Attribute == a {
			return l, true
		}
	}
	return LookupList{}, false
}

// Lookup fetches one reference list. A null body is an empty list.
func (c *Client) Lookup(ctx context.Context, list LookupList) ([]domain.LookupItem, error) {
	resp, err := c.catalog.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(list.Path)
	if err != nil {
		return nil, transportError("fetch "+list.Path, err)
	}
	if resp.IsError() {
		return nil, replyError(resp, "Failed to fetch reference data.")
	}
	items, err := decodeLookup(resp.Body(), list)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", list.Path, err)
	}
	return items, nil
}

func decodeLookup(body []byte, list LookupList) ([]domain.LookupItem, error) {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	items := make([]domain.LookupItem, 0, len(rows))
	for _, row := range rows {
		id := scalarString(row[list.IDKey])
		if id == "" || id == "null" {
			continue
		}
		items = append(items, domain.LookupItem{
			ID:   id,
			Name: strings.TrimSpace(scalarString(row[list.NameKey])),
		})
	}
	return items, nil
}
