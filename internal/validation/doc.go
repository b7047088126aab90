// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

// Package validation validates decoded API request bodies with
// go-playground/validator v10.
//
// A single validator instance is shared process-wide; it caches struct
// metadata and is safe for concurrent use. Field names in errors come from
// the json tag, so clients see the names they sent:
//
//	type postMessageRequest struct {
//	    Body string `json:"body" validate:"required,max=4000"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    respondError(w, http.StatusBadRequest, verr.Code(), verr.Error(), verr.Fields())
//	    return
//	}
package validation
