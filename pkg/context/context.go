// Package context carries request-scoped values used for logging and error
// responses.
package context

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	MethodKey    = ContextKey("X-Method")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	ProjectIDKey = ContextKey("X-Project-Id")
	DatasetIDKey = ContextKey("X-Dataset-Id")
)

func set(ctx context.Context, key ContextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func get(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return set(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return get(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return set(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return get(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return set(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return get(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return set(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return get(ctx, RemoteIPKey)
}

// SetProjectID tags the request with the linkage project it operates on.
func SetProjectID(ctx context.Context, projectID string) context.Context {
	return set(ctx, ProjectIDKey, projectID)
}

func GetProjectID(ctx context.Context) string {
	return get(ctx, ProjectIDKey)
}

// SetDatasetID tags the request with the dataset it operates on.
func SetDatasetID(ctx context.Context, datasetID string) context.Context {
	return set(ctx, DatasetIDKey, datasetID)
}

func GetDatasetID(ctx context.Context) string {
	return get(ctx, DatasetIDKey)
}
