package cdpcontrol

import (
	"encoding/json"
	"strconv"
)

// jsElementHelper provides _el(sel, idx, desc), resolving an Element the same
// way on every call.
const jsElementHelper = `
function _el(sel, idx, desc) {
  var all = document.querySelectorAll(sel);
  var i = idx < 0 ? all.length + idx : idx;
  var el = (i >= 0 && i < all.length) ? all[i] : null;
  if (el && desc) el = el.querySelector(desc);
  return el;
}
function _missing(what) {
  return JSON.stringify({ok:false,error_code:"` + CodeElementNotFound + `",error_message:"no element matches " + what});
}
`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

// jsResolve emits the element lookup prologue; the body after it can use el.
func jsResolve(e Element) string {
	return jsElementHelper + `
var el = _el(` + jsString(e.Selector) + `, ` + strconv.Itoa(e.Index) + `, ` + jsString(e.Descendant) + `);
if (!el) return _missing(` + jsString(e.String()) + `);
`
}

func jsLocate(e Element) string {
	return wrapJSEval(jsResolve(e) + `
if (typeof el.scrollIntoView === "function") el.scrollIntoView({block:"center",inline:"center"});
var r = el.getBoundingClientRect();
return JSON.stringify({ok:true,data:{x:r.left + r.width / 2,y:r.top + r.height / 2,width:r.width,height:r.height}});`)
}

// jsSyntheticClick fires the event sequence of a click on an element that
// has no box to aim trusted input at.
func jsSyntheticClick(e Element, button string) string {
	btn := "0"
	if button == "right" {
		btn = "2"
	}
	return wrapJSEval(jsResolve(e) + `
var opts = {bubbles:true,cancelable:true,view:window,button:` + btn + `};
el.dispatchEvent(new MouseEvent("mouseover", opts));
el.dispatchEvent(new MouseEvent("mouseenter", {bubbles:false,view:window}));
if (typeof el.focus === "function") el.focus();
el.dispatchEvent(new MouseEvent("mousedown", opts));
el.dispatchEvent(new MouseEvent("mouseup", opts));
if (` + btn + ` === 2) { el.dispatchEvent(new MouseEvent("contextmenu", opts)); }
else if (typeof el.click === "function") { el.click(); }
return JSON.stringify({ok:true});`)
}

func jsFocus(e Element, selectAll bool) string {
	sel := ""
	if selectAll {
		sel = `
if (typeof el.select === "function") el.select();
else if (typeof el.setSelectionRange === "function") el.setSelectionRange(0, String(el.value || "").length);`
	}
	return wrapJSEval(jsResolve(e) + `
if (typeof el.focus === "function") el.focus();` + sel + `
return JSON.stringify({ok:true,data:{focused:document.activeElement === el}});`)
}

func jsValue(e Element) string {
	return wrapJSEval(jsResolve(e) + `
return JSON.stringify({ok:true,data:{value:el.value === undefined || el.value === null ? "" : String(el.value)}});`)
}

// jsSetValue writes through the native setter so framework-controlled inputs
// observe the change via the input event.
func jsSetValue(e Element, value string) string {
	return wrapJSEval(jsResolve(e) + `
var proto = Object.getPrototypeOf(el);
var desc = proto ? Object.getOwnPropertyDescriptor(proto, "value") : null;
if (desc && typeof desc.set === "function") desc.set.call(el, ` + jsString(value) + `);
else el.value = ` + jsString(value) + `;
el.dispatchEvent(new Event("input", {bubbles:true}));
el.dispatchEvent(new Event("change", {bubbles:true}));
return JSON.stringify({ok:true});`)
}

func jsCount(selector string) string {
	return wrapJSEval(`
return JSON.stringify({ok:true,data:{count:document.querySelectorAll(` + jsString(selector) + `).length}});`)
}

// jsLinks lists anchors. With firstPerMatch each selector match contributes
// its first descendant anchor (or itself when it is one); otherwise every
// match is taken as the anchor.
func jsLinks(selector string, firstPerMatch bool) string {
	return wrapJSEval(`
var nodes = document.querySelectorAll(` + jsString(selector) + `);
var out = [];
for (var i = 0; i < nodes.length; i++) {
  var a = nodes[i];
  if (` + strconv.FormatBool(firstPerMatch) + `) {
    a = (a.tagName === "A") ? a : a.querySelector("a");
    if (!a) continue;
  }
  out.push({href:String(a.href || ""),href_attr:a.getAttribute("href") || "",text:String(a.textContent || "")});
}
return JSON.stringify({ok:true,data:{links:out}});`)
}

func jsReadyState() string {
	return wrapJSEval(`
return JSON.stringify({ok:true,data:{ready_state:document.readyState,url:String(location.href)}});`)
}

func jsSetWindowFlag(name string, value any) string {
	return wrapJSEval(`
window[` + jsString(name) + `] = ` + jsJSON(value) + `;
return JSON.stringify({ok:true});`)
}
