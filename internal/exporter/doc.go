// Package exporter renders reconciled ledgers and their analytics.
//
// CSVWriter writes CSV files (UTF-8 BOM for Excel) under an output directory
// and streams large ledgers through StreamWriter. ReportExporter writes the
// standard report set: ledger.csv, pivot.csv, change.csv, lapsed.csv and a
// report.xlsx workbook with highlighted Pivot and Change sheets.
//
// The presentation rules live here too: FilterPivotByThreshold, ClassifyCell,
// ClassifyChange and FormatMoney.
package exporter
