// Package webapp provides embedded static files for the file manager web app.
package webapp

import "embed"

//go:embed index.html login.html css js
var Assets embed.FS
