// Package classify decides whether an identity names a real production
// account. The scanner drops every key whose identity fails the check, so
// test and demo accounts never enter the pipeline.
//
// Rules are token indicators plus regular expressions, optionally loaded from
// a YAML file and combined with explicit allow and deny lists.
package classify
