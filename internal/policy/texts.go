package policy

// Scripted bot texts (Mario persona, Negocios Híbridos funnel).
const (
	GreetingText = "¡Hola! 👋 Soy *Mario*, agente del equipo de **Hernán Oviedo**. Estoy aquí para acompañarte en tu proceso como parte de nuestro programa *Negocios Híbridos* 🚀.\n\nMi misión es ayudarte a llevar tu negocio físico al mundo digital, paso a paso y de manera efectiva. ¡Vamos a hacerlo juntos!"

	MembershipQuestionText = "¿Ya perteneces al programa *Negocios Híbridos* de Hernán Oviedo? 🎯"

	MemberYesText = "¡Excelente decisión de transformar tu negocio! 🚀 ¿En qué paso te encuentras actualmente? Cuéntame para sugerirte algunas tareas sencillas para seguir avanzando. 😉"

	MemberNoText = "¡Entiendo! 😊 Te invito a unirte a nuestro programa *Negocios Híbridos* y comenzar a llevar tu negocio al mundo digital con nuestro acompañamiento personalizado, clases grabadas y sesiones en vivo para resolver todas tus dudas. ¡Es el momento de dar el salto! 🚀 ¿Te gustaría saber más sobre cómo unirte?"

	ClarifyMembershipText = "Por favor, responde 'sí' o 'no' si ya perteneces al programa *Negocios Híbridos* de Hernán Oviedo. 🎯"

	BusinessQuestionText = "¡Claro! 💼 Cuéntame un poco más sobre tu negocio: ¿qué vendes y a quién le vendes? Con eso puedo darte una asesoría más enfocada para llevarlo al mundo digital."

	ImageReceivedText = "Imagen recibida correctamente. Gracias por enviarla."

	UnsupportedText = "👋 Hola, por ahora solo puedo procesar mensajes de texto, audios e imágenes."

	ApologyText = "⚠️ Hubo un problema procesando tu mensaje. Intenta nuevamente más tarde."

	// SentinelText stands in for a text event that carried no body.
	SentinelText = "[contenido no textual recibido]"
)
