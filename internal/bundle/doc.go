// Package bundle rewrites a compiled Elm bundle into an ES module.
//
// The Elm compiler emits a self-invoking wrapper that installs its namespace
// on the global object:
//
//	(function(scope){
//	'use strict';
//	function _Platform_export(exports) { ... }
//	function _Platform_mergeExportsProd(obj, exports) { ... }
//	...
//	_Platform_export({'Main':{'init':...}});}(this));
//
// Rewrite locates those landmarks in a tree-sitter syntax tree, comments out
// the wrapper header, the strict directive and the export machinery, and
// appends
//
//	export const Elm = {'Main':{'init':...}};
//
// Every landmark must match exactly once. A miss is reported as a
// *MalformedBundleError naming the step that failed, and no partial output
// is produced.
package bundle
