// Package backend is the REST client for the hosted profile service.
//
// Only three calls matter to location sharing:
//
//	PUT /profile/{id}   {"isOnline": bool}                        presence flag
//	PUT /profile/{id}   {"location": {...}, "locationUpdatedAt"}   reporter upload
//	GET /profile?query={...}&limit=N                              nearby profiles
//
// The nearby query uses the backend's $nearSphere predicate, whose
// $maxDistance is in radians (see geo.AngularRadius).
//
// Failures are classified: ErrTransient (network, 5xx, 429), ErrUnauthorized
// (401, 403) and ErrRejected (other 4xx).
package backend
