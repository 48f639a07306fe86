package reconcile

import "strings"

// FormatConfirmation builds the thank-you message sent to the donor once the
// image is in place.
func FormatConfirmation(commonsURL, articleURL string) string {
	paragraphs := []string{
		"Hartelijk dank voor het vrijgeven van uw afbeelding. " +
			"Ik heb de afbeelding in de centrale mediadatabase van Wikimedia (Wikimedia Commons) geplaatst. " +
			"U kunt de afbeelding hier bekijken: " + commonsURL + " .",
		"Daarnaast heb ik de afbeelding in dit artikel geplaatst op de Nederlandstalige Wikipedia: " + articleURL + " .",
		"Dank voor de donatie van deze afbeelding!",
	}
	return strings.Join(paragraphs, "\n\n")
}
