package widget

import (
	"encoding/json"
	"strconv"
)

// Namespace is the page-global marker object the bundle is announced on,
// e.g. window.searchspring.build = "universal".
type Namespace struct {
	Global string
	Field  string
	Tag    string
}

// DefaultNamespace is the marker set by the universal bootstrap.
var DefaultNamespace = Namespace{Global: "searchspring", Field: "build", Tag: "universal"}

// Marker is the namespace as read back from the page.
type Marker struct {
	Exists bool   `json:"exists"`
	Tag    string `json:"tag"`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// EnsureJS creates the global object when absent and sets the tag field.
// Running it twice leaves the same state.
func (n Namespace) EnsureJS() string {
	return `(function(){
var g = ` + quote(n.Global) + `;
window[g] = window[g] || {};
window[g][` + quote(n.Field) + `] = ` + quote(n.Tag) + `;
return JSON.stringify({ok:true,data:{exists:true,tag:String(window[g][` + quote(n.Field) + `])}});
})()`
}

// ReadJS reports whether the global exists and the tag it carries.
func (n Namespace) ReadJS() string {
	return `(function(){
var o = window[` + quote(n.Global) + `];
if (o === undefined || o === null) return JSON.stringify({ok:true,data:{exists:false,tag:""}});
var t = o[` + quote(n.Field) + `];
return JSON.stringify({ok:true,data:{exists:true,tag:t === undefined || t === null ? "" : String(t)}});
})()`
}

// TeardownJS removes the global object.
func (n Namespace) TeardownJS() string {
	return `(function(){
try { delete window[` + quote(n.Global) + `]; } catch (_) { window[` + quote(n.Global) + `] = undefined; }
return JSON.stringify({ok:true});
})()`
}

// Ready reports whether m shows the namespace announced with n's tag.
func (n Namespace) Ready(m Marker) bool {
	return m.Exists && m.Tag == n.Tag
}

func (n Namespace) String() string {
	return "window." + n.Global + "." + n.Field + "=" + strconv.Quote(n.Tag)
}
