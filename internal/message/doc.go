// Package message defines chat messages as clients submit them and reduces
// their content to plain text.
//
// A message's content arrives either as a JSON string or as an ordered list
// of typed parts:
//
//	{"role": "user", "content": "Hello"}
//	{"role": "user", "content": [
//	    {"type": "text", "text": "What is in this picture?"},
//	    {"type": "image_url", "image_url": {"url": "https://..."}}
//	]}
//
// Only text parts survive normalization. They are joined with newlines in
// their original order; every other part type is dropped. The result is what
// gets persisted and what is forwarded to the completion provider as history.
package message
