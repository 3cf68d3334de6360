package provider

import (
	"fmt"
	"html"
	"strings"

	"github.com/emreis/sanalpos/infra/codec"
)

// AutoSubmitForm renders the HTML document that forwards the cardholder's
// browser to the issuer ACS. Field order is preserved.
func AutoSubmitForm(action string, fields []codec.FormPair) string {
	var formFields strings.Builder
	for _, f := range fields {
		formFields.WriteString(fmt.Sprintf("\t\t<input type=\"hidden\" name=\"%s\" value=\"%s\" />\n",
			html.EscapeString(f.Key), html.EscapeString(f.Value)))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<title>3D Secure</title>
	<meta charset="utf-8">
	<meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
</head>
<body onload="document.threeDForm.submit();">
	<div style="text-align: center; margin-top: 50px;">
		<p>Ödeme işleminiz 3D güvenlik sayfasına yönlendiriliyor...</p>
		<p>Payment is being redirected to 3D secure page...</p>
	</div>
	<form name="threeDForm" method="POST" action="%s">
%s	</form>
</body>
</html>`, html.EscapeString(action), formFields.String())
}
