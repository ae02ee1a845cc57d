package widget

// CodeControllerNotFound is the envelope error code emitted while the named
// controller is not registered yet.
const CodeControllerNotFound = "CONTROLLER_NOT_FOUND"

// ControllerJS returns an async expression that resolves the named controller
// on the namespace global and projects its store into a Store envelope. The
// controller map is tried first, then getController(name).
func ControllerJS(global, name string) string {
	return `(async function(){
try {
var ns = window[` + quote(global) + `];
var name = ` + quote(name) + `;
if (!ns) return JSON.stringify({ok:false,error_code:"` + CodeControllerNotFound + `",error_message:"namespace not found"});
var ctrl = ns.controller && ns.controller[name];
if (!ctrl && typeof ns.getController === "function") ctrl = await ns.getController(name);
if (!ctrl || !ctrl.store) return JSON.stringify({ok:false,error_code:"` + CodeControllerNotFound + `",error_message:"controller not found: " + name});
var store = ctrl.store;
function _len(v) { return v && typeof v.length === "number" ? v.length : 0; }
var results = [];
var rs = store.results || [];
for (var i = 0; i < _len(rs); i++) {
  var r = rs[i] || {};
  var core = r.mappings && r.mappings.core;
  results.push({type: String(r.type || ""), url: core && core.url ? String(core.url) : ""});
}
var terms = [];
var ts = store.terms || [];
for (var j = 0; j < _len(ts); j++) {
  var t = ts[j] || {};
  terms.push({value: String(t.value === undefined ? "" : t.value), active: !!t.active});
}
var settings = (store.config && store.config.settings && store.config.settings.trending) || {};
var services = store.services || ctrl;
var um = (services && services.urlManager) || {};
var state = store.state || {};
var input = state.input === undefined || state.input === null ? null : String(state.input);
var query = store.search && store.search.query && store.search.query.string;
return JSON.stringify({ok:true,data:{
  results: results,
  terms: terms,
  facet_count: _len(store.facets),
  trending_count: _len(store.trending),
  total_results: Number(store.pagination && store.pagination.totalResults) || 0,
  query: query === undefined || query === null ? "" : String(query),
  input: input,
  trending: {show_results: !!settings.showResults, limit: Number(settings.limit) || 0},
  url_manager: {href: String(um.href || ""), has_filter: !!(um.state && um.state.filter !== undefined && um.state.filter !== null)}
}});
} catch (err) {
return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:String(err && err.message || err)});
}
})()`
}
