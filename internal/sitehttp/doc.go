// Package sitehttp builds the site's request pipeline: the middleware
// units selected from build mode and configuration, their order, and the
// chi routes that hand every request to the dispatcher.
package sitehttp
