// Package transport defines the wire contract to the Config Service and
// Meta Server (spec §6). The HTTP implementation itself is an external
// collaborator: callers inject anything satisfying Doer, defaulting to
// *http.Client in production and a fake in tests.
package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Doer is the minimal surface this package needs from an HTTP client,
// letting tests inject a fake without pulling in a real transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ConfigResponse is the body of a 200 response from
// GET /configs/{appId}/{cluster}/{namespace}.
type ConfigResponse struct {
	AppID          string            `json:"appId"`
	Cluster        string            `json:"cluster"`
	NamespaceName  string            `json:"namespaceName"`
	Configurations map[string]string `json:"configurations"`
	ReleaseKey     string            `json:"releaseKey"`
}

// NotificationEntry is one element of the request/response payload for
// GET /notifications/v2.
type NotificationEntry struct {
	NamespaceName  string           `json:"namespaceName"`
	NotificationID int64            `json:"notificationId"`
	Messages       *MessagesPayload `json:"messages,omitempty"`
}

// MessagesPayload matches the server's {"details": {channel: id}} shape
// for NotificationEntry.Messages.
type MessagesPayload struct {
	Details map[string]int64 `json:"details"`
}

// ServiceDTO describes one entry from GET /services/config on the meta
// server.
type ServiceDTO struct {
	HomepageURL string `json:"homepageUrl"`
	InstanceID  string `json:"instanceId"`
}

// BuildQuery assembles a query string from ordered key/value pairs,
// omitting entries whose value is empty and appending the "?" separator
// only when at least one parameter survives — resolving spec §9's open
// question about the source's apparent always-append-"?" behavior in
// favor of never emitting a bare trailing "?".
func BuildQuery(pairs [][2]string) string {
	values := url.Values{}
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		values.Set(kv[0], kv[1])
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// ConfigURL builds the GET /configs/{appId}/{cluster}/{namespace} request
// URL, including the optional releaseKey/ip/messages/dataCenter params.
func ConfigURL(endpoint, appID, cluster, namespace, releaseKey, ip, dataCenter string, messages map[string]int64) string {
	base := strings.TrimRight(endpoint, "/") + "/configs/" + url.PathEscape(appID) + "/" + url.PathEscape(cluster) + "/" + url.PathEscape(namespace)

	messagesJSON := ""
	if len(messages) > 0 {
		if b, err := json.Marshal(map[string]map[string]int64{"details": messages}); err == nil {
			messagesJSON = string(b)
		}
	}

	return base + BuildQuery([][2]string{
		{"releaseKey", releaseKey},
		{"ip", ip},
		{"dataCenter", dataCenter},
		{"messages", messagesJSON},
	})
}

// NotificationsURL builds the GET /notifications/v2 long-poll request URL.
func NotificationsURL(endpoint, appID, cluster, dataCenter, ip string, entries []NotificationEntry) string {
	base := strings.TrimRight(endpoint, "/") + "/notifications/v2"

	notificationsJSON := "[]"
	if b, err := json.Marshal(entries); err == nil {
		notificationsJSON = string(b)
	}

	return base + BuildQuery([][2]string{
		{"appId", appID},
		{"cluster", cluster},
		{"dataCenter", dataCenter},
		{"ip", ip},
		{"notifications", notificationsJSON},
	})
}

// ServicesURL builds the GET /services/config meta-server request URL.
func ServicesURL(metaServer, appID string) string {
	return strings.TrimRight(metaServer, "/") + "/services/config" + BuildQuery([][2]string{
		{"appId", appID},
	})
}

// FormatID renders a notification id for logging/URLs.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
