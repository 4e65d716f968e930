// Package server is the HTTP surface of the CSV file drop: the password
// grant, user administration under /users/, the caller's files under
// /uploadfiles/, and the health and metrics endpoints. It also owns the
// middleware chain (request ids, logging, security headers, login
// throttling).
package server
