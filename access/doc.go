// Package access is the permission-checked proxy external tools and plugins
// use to reach the session context store. Tools register once for an access
// level (optionally with explicit scope/operation grants and a TTL) and
// every subsequent call is validated against the stored permission.
// Permissions lazily self-expire: a check against an expired grant deletes
// it and denies the access.
package access
