package dump

import (
	"database/sql"
	"strings"
)

// WriteTable appends one table's DROP, CREATE and INSERT statements to sb.
//
//	DROP TABLE IF EXISTS `t`;
//
//	<create statement>;
//
//	INSERT INTO `t` VALUES('a', NULL);
//
// followed by three newlines.
func WriteTable(sb *strings.Builder, table TableDump) {
	ident := QuoteIdentifier(table.Name)

	sb.WriteString("DROP TABLE IF EXISTS ")
	sb.WriteString(ident)
	sb.WriteString(";\n\n")
	sb.WriteString(table.CreateStatement)
	sb.WriteString(";\n\n")

	for _, row := range table.Rows {
		sb.WriteString("INSERT INTO ")
		sb.WriteString(ident)
		sb.WriteString(" VALUES(")
		for i, value := range row {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(QuoteValue(value))
		}
		sb.WriteString(");\n")
	}

	sb.WriteString("\n\n\n")
}

// QuoteValue renders a column value as a SQL literal. NULL stays NULL; strings are
// single-quoted with backslash, quote, double quote and NUL escaped and newlines
// written as \n.
func QuoteValue(value sql.NullString) string {
	if !value.Valid {
		return "NULL"
	}

	var sb strings.Builder
	sb.Grow(len(value.String) + 2)
	sb.WriteByte('\'')
	for i := 0; i < len(value.String); i++ {
		c := value.String[i]
		switch c {
		case '\\', '\'', '"':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case 0:
			sb.WriteString(`\0`)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

// QuoteIdentifier wraps a table name in backticks, doubling any embedded backtick
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
