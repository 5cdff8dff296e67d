// Package http implements the HTTP handlers of the donor ledger service.
//
// Handlers stay thin: they parse and validate the request, call the service
// layer and render the result. Every failure is rendered as an RFC 7807
// problem document through errors.ErrorHandler.
//
// # Routes
//
//	POST   /api/ledgers                   upload a workbook (multipart field "file")
//	GET    /api/ledgers/{id}              session summary and normalization stats
//	DELETE /api/ledgers/{id}              drop the session and its cached results
//	GET    /api/ledgers/{id}/rows         reconciled rows (?search=&sheet=&account=)
//	GET    /api/ledgers/{id}/filters      dropdown values
//	GET    /api/ledgers/{id}/pivot        donor × year table (?threshold=)
//	GET    /api/ledgers/{id}/delta        year-over-year change (?change_threshold=&threshold=)
//	GET    /api/ledgers/{id}/lapsed       lapsed donors (?year=&min_last_amount=)
//	GET    /api/ledgers/{id}/report.xlsx  highlighted workbook report
//
// Pivot and delta responses carry per-cell highlight classes ("met", "below",
// "increase", "decrease", "none") and a formatted display string so clients
// render exactly what the exported workbook shows.
package http
