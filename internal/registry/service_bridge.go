// Copyright 2025 The Rivaas Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
	"github.com/rivaas-dev/edge-gateway/internal/sdk"
	"github.com/rivaas-dev/edge-gateway/internal/service"
)

// dispatchServiceCall answers one ServiceCallRequest a handler sent on its
// stderr side channel, routing it to the object-store or SQL actor the
// dispatcher built for this request. Grounded on services.rs's
// MinioClient/SqliteClient op sets, translated to the closed operation
// list this side channel actually carries.
func dispatchServiceCall(ctx context.Context, svc *service.Context, call sdk.ServiceCallRequest) sdk.ServiceCallResponse {
	if svc == nil {
		return sdk.ServiceCallResponse{Error: gwerrors.ErrServiceNotConfigured.Error()}
	}

	switch call.Service {
	case "objectstore":
		return dispatchObjectStoreCall(ctx, svc, call)
	case "sql":
		return dispatchSQLCall(ctx, svc, call)
	default:
		return sdk.ServiceCallResponse{Error: "unknown service: " + call.Service}
	}
}

func dispatchObjectStoreCall(ctx context.Context, svc *service.Context, call sdk.ServiceCallRequest) sdk.ServiceCallResponse {
	store, err := svc.RequireObjectStore()
	if err != nil {
		return sdk.ServiceCallResponse{Error: err.Error()}
	}

	switch call.Op {
	case "get":
		data, err := store.Get(ctx, call.Bucket, call.Key)
		if err != nil {
			return sdk.ServiceCallResponse{Error: err.Error()}
		}
		return sdk.ServiceCallResponse{Data: data}

	case "put":
		if err := store.Put(ctx, call.Bucket, call.Key, call.Data, call.ContentType); err != nil {
			return sdk.ServiceCallResponse{Error: err.Error()}
		}
		return sdk.ServiceCallResponse{}

	case "delete":
		if err := store.Delete(ctx, call.Bucket, call.Key); err != nil {
			return sdk.ServiceCallResponse{Error: err.Error()}
		}
		return sdk.ServiceCallResponse{}

	case "list":
		infos, err := store.List(ctx, call.Bucket, call.Prefix)
		if err != nil {
			return sdk.ServiceCallResponse{Error: err.Error()}
		}
		objects := make([]sdk.ServiceObject, len(infos))
		for i, info := range infos {
			objects[i] = sdk.ServiceObject{
				Key:          info.Key,
				Size:         info.Size,
				LastModified: info.LastModified.UTC().Format("2006-01-02T15:04:05Z07:00"),
				ETag:         info.ETag,
				ContentType:  info.ContentType,
			}
		}
		return sdk.ServiceCallResponse{Objects: objects}

	default:
		return sdk.ServiceCallResponse{Error: "unknown objectstore op: " + call.Op}
	}
}

func dispatchSQLCall(ctx context.Context, svc *service.Context, call sdk.ServiceCallRequest) sdk.ServiceCallResponse {
	backend, err := svc.RequireSQL()
	if err != nil {
		return sdk.ServiceCallResponse{Error: err.Error()}
	}

	switch call.Op {
	case "query":
		rows, err := backend.Query(ctx, call.Query, call.Args...)
		if err != nil {
			return sdk.ServiceCallResponse{Error: err.Error()}
		}
		out := make([]map[string]any, len(rows))
		for i, row := range rows {
			out[i] = map[string]any(row)
		}
		return sdk.ServiceCallResponse{Rows: out}

	case "execute":
		affected, err := backend.Execute(ctx, call.Query, call.Args...)
		if err != nil {
			return sdk.ServiceCallResponse{Error: err.Error()}
		}
		return sdk.ServiceCallResponse{Affected: affected}

	default:
		return sdk.ServiceCallResponse{Error: "unknown sql op: " + call.Op}
	}
}
