// Package packages answers which installed package owns a file, what that
// package is called, and whether its signing key is trusted.
//
// RPM shells out to the rpm query tool; Keyring loads armored OpenPGP public
// keys and matches package signatures by key id. Both are consulted inline by
// the triage engine, so callers hold no dump directory lock while querying.
package packages
