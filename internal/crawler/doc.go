// Package crawler holds the records, fetch outcomes, error taxonomy, and
// collaborator interfaces shared by the roster scheduler, the fetch client,
// and the record store.
package crawler
