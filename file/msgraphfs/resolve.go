// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/graphdrive/base/errors"
)

// itemURL builds the request URL for an item. Addressing is by opaque item
// ID when one is known, else by drive-relative path. action, when nonempty,
// is the operation segment appended after the item ("content", "children",
// "createUploadSession", "copy").
func (impl *graphImpl) itemURL(drivePath, itemID, action string) string {
	if action != "" {
		action = "/" + action
	}
	if itemID != "" {
		return impl.driveURL + "/items/" + itemID + action
	}
	if drivePath == "" {
		return impl.driveURL + "/root" + action
	}
	return impl.driveURL + "/root:" + escapeDrivePath(drivePath) + ":" + action
}

// childItemID forms the ID-rooted address of a not-yet-existing child of a
// resolved parent. It is accepted everywhere an item ID is.
func childItemID(parentID, name string) string {
	return parentID + ":/" + url.PathEscape(name) + ":"
}

func escapeDrivePath(drivePath string) string {
	segs := strings.Split(drivePath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// getItem fetches the full metadata record for the item at drivePath.
func (impl *graphImpl) getItem(ctx context.Context, drivePath, name string) (*driveItem, error) {
	data, err := impl.callBytes(ctx, http.MethodGet, impl.itemURL(drivePath, "", ""), name, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeItem(data)
}

// getItemID resolves a drive path to its item ID. When the item does not
// exist, getItemID returns an errors.NotExist error if throwOnMissing is
// set, else ("", nil).
func (impl *graphImpl) getItemID(ctx context.Context, drivePath, name string, throwOnMissing bool) (string, error) {
	target := impl.itemURL(drivePath, "", "") + "?select=id"
	data, err := impl.callBytes(ctx, http.MethodGet, target, name, nil, nil)
	if err != nil {
		if !throwOnMissing && errors.Is(errors.NotExist, err) {
			return "", nil
		}
		return "", err
	}
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return "", errors.E(errors.Invalid, name, "malformed item metadata", err)
	}
	return v.ID, nil
}

// getItemReference fetches the reference record for the item at drivePath,
// suitable for embedding as the parentReference of another request. The
// record is passed through opaquely.
func (impl *graphImpl) getItemReference(ctx context.Context, drivePath, name string) (json.RawMessage, error) {
	target := impl.itemURL(drivePath, "", "") + "?select=id,driveId,driveType,name,path,shareId,sharepointIds,siteId"
	data, err := impl.callBytes(ctx, http.MethodGet, target, name, nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
