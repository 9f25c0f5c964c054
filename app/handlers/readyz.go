// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-obvious/server"
	"github.com/go-obvious/server/api"

	"github.com/cloudzero/cloudflare-d1/app/domain/healthz"
)

// ReadyzAPI answers with the state of the checks registered in healthz.
type ReadyzAPI struct {
	api.Service
}

func NewReadyzAPI(base string) *ReadyzAPI {
	a := &ReadyzAPI{
		Service: api.Service{
			APIName: "readyz",
			Mounts:  map[string]*chi.Mux{},
		},
	}
	a.Service.Mounts[base] = a.Routes()
	return a
}

func (a *ReadyzAPI) Register(app server.Server) error {
	return a.Service.Register(app)
}

func (a *ReadyzAPI) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/", healthz.NewHealthz().EndpointHandler())
	return r
}
