// Package logx is artemia's logging layer on top of zerolog.
//
// Console output is human readable with a short caller, the file sink is
// JSON, and the optional alert sink appends rate-limited one-line summaries
// of warnings and errors to a separate file so flash wear stays bounded
// during a brownout storm.
package logx
