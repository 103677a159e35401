// Package proximity keeps the list of nearby online users current.
//
// Feed.Refresh is a single query: it converts the radius to the backend's
// angular unit, drops the caller and any result without usable
// coordinates, and returns entities ordered by id so that markers keep a
// stable order between refreshes.
//
// Between Start and Stop the feed re-runs the query every refresh
// interval from the latest origin, and immediately when the radius
// changes or the first origin arrives. A failed refresh keeps the
// previous list; the next tick is the retry.
package proximity
