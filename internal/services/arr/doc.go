// Package arr routes classified items to Radarr (movies) and Sonarr (series)
// instances over their v3 HTTP API.
//
// Each library maps onto a named instance and a root folder. Router.Route adds
// unknown items or moves managed ones into the library's root folder;
// Router.Preview performs the same resolution plus reachability checks
// without mutating anything and backs batch validation.
package arr
